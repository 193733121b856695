package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/authtap/internal/config"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona is used for any field the configuration leaves empty. The
// user agent and timezone stay those of the real browser and host unless
// configured.
var DefaultPersona = Persona{
	Languages: []string{"en-US", "en"},
	Locale:    "en-US",
}

// FromConfig merges the configured persona over DefaultPersona.
func FromConfig(cfg config.PersonaConfig) Persona {
	p := DefaultPersona
	p.Languages = append([]string(nil), DefaultPersona.Languages...)
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if len(cfg.Languages) > 0 {
		p.Languages = append([]string(nil), cfg.Languages...)
	}
	if cfg.Timezone != "" {
		p.Timezone = cfg.Timezone
	}
	if cfg.Locale != "" {
		p.Locale = cfg.Locale
	}
	return p
}

// AcceptLanguage renders the persona languages as an Accept-Language value,
// with descending quality weights after the first entry.
func (p Persona) AcceptLanguage() string {
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// Apply constructs the CDP actions that make the automated browser look like
// a regular user-operated one. It must run before the first navigation so
// the evasions script is registered for every new document.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser stealth persona.",
		zap.String("userAgent", p.UserAgent),
		zap.String("timezone", p.Timezone),
	)

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}

	if p.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(p.UserAgent).WithAcceptLanguage(p.AcceptLanguage()))
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		// SetLocaleOverride takes no arguments; the locale comes through WithLocale.
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if len(p.Languages) > 0 {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.AcceptLanguage(),
		}))
	}

	return tasks
}
