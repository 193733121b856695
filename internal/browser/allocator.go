package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/authtap/internal/config"
)

// launchFlag is a single chrome command line switch. A false boolean value
// removes a switch that the chromedp defaults would otherwise pass.
type launchFlag struct {
	name  string
	value interface{}
}

// launchFlags translates the browser configuration into chrome switches on
// top of chromedp.DefaultExecAllocatorOptions.
func launchFlags(cfg config.BrowserConfig) []launchFlag {
	flags := []launchFlag{
		// Required on hardened hosts and inside containers.
		{"no-sandbox", true},
		{"disable-dev-shm-usage", true},
		// Keeps sites from branching on navigator.webdriver.
		{"disable-blink-features", "AutomationControlled"},
		{"enable-automation", false},
		{"headless", cfg.Headless},
	}

	if cfg.DisableGPU {
		flags = append(flags, launchFlag{"disable-gpu", true})
	}

	if cfg.DisableCache {
		flags = append(flags,
			launchFlag{"disk-cache-size", "0"},
			launchFlag{"media-cache-size", "0"},
			launchFlag{"disable-cache", true},
		)
	}

	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			launchFlag{"ignore-certificate-errors", true},
			launchFlag{"allow-insecure-localhost", true},
		)
	}

	if cfg.Incognito {
		flags = append(flags, launchFlag{"incognito", true})
	}

	width, height := cfg.Viewport["width"], cfg.Viewport["height"]
	if width > 0 && height > 0 {
		flags = append(flags, launchFlag{"window-size", fmt.Sprintf("%d,%d", width, height)})
	}

	if cfg.UserDataDir != "" {
		flags = append(flags, launchFlag{"user-data-dir", cfg.UserDataDir})
	}
	if cfg.ProfileDir != "" {
		flags = append(flags, launchFlag{"profile-directory", cfg.ProfileDir})
	}

	// Extra switches from the config file's 'args' slice, with or without
	// the leading dashes.
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			flags = append(flags, launchFlag{key, true})
			continue
		}
		flags = append(flags, launchFlag{key, value})
	}

	return flags
}

// DefaultAllocatorOptions builds the exec allocator options for a capture
// browser from the configuration.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if ua := cfg.Persona.UserAgent; ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	return opts
}

// NewAllocator starts an exec allocator for cfg. The returned cancel func
// shuts down the browser process.
func NewAllocator(ctx context.Context, cfg config.BrowserConfig) (context.Context, context.CancelFunc) {
	return chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg)...)
}
