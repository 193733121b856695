// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Capture() CaptureConfig
	Artifacts() ArtifactsConfig
	Metrics() MetricsConfig

	// Setters for values commands supply after loading.
	SetCaptureTargetURL(string)
	SetArtifactsCookieFile(string)
}

// Config holds the entire application configuration.
// Fields are exported so viper can unmarshal into them; callers go through the getters.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	CaptureCfg   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	ArtifactsCfg ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Capture() CaptureConfig     { return c.CaptureCfg }
func (c *Config) Artifacts() ArtifactsConfig { return c.ArtifactsCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetCaptureTargetURL(u string)     { c.CaptureCfg.TargetURL = u }
func (c *Config) SetArtifactsCookieFile(p string) { c.ArtifactsCfg.CookieFile = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	DisableGPU      bool           `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Incognito       bool           `mapstructure:"incognito" yaml:"incognito"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir     string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	ProfileDir      string         `mapstructure:"profile_dir" yaml:"profile_dir"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	Persona         PersonaConfig  `mapstructure:"persona" yaml:"persona"`
}

// PersonaConfig is the browser identity presented to the page.
type PersonaConfig struct {
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	Locale    string   `mapstructure:"locale" yaml:"locale"`
}

// Capture modes select which request observers are installed.
const (
	ModeNetwork = "network"
	ModeHook    = "hook"
	ModeBoth    = "both"
)

// Capture policies decide which of several matching headers is kept.
const (
	PolicyFirst  = "first"
	PolicyLatest = "latest"
)

// CaptureConfig drives the Interceptor+Poller.
type CaptureConfig struct {
	TargetURL         string        `mapstructure:"target_url" yaml:"target_url"`
	TriggerURLs       []string      `mapstructure:"trigger_urls" yaml:"trigger_urls"`
	Mode              string        `mapstructure:"mode" yaml:"mode"`
	Policy            string        `mapstructure:"policy" yaml:"policy"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	ResetOnNavigation bool          `mapstructure:"reset_on_navigation" yaml:"reset_on_navigation"`
	URLFilter         string        `mapstructure:"url_filter" yaml:"url_filter"`
	// VerifyURL, when set, is requested with the captured token after capture.
	VerifyURL string `mapstructure:"verify_url" yaml:"verify_url"`
}

// ArtifactsConfig controls where captured values are persisted.
type ArtifactsConfig struct {
	TokenFile     string `mapstructure:"token_file" yaml:"token_file"`
	TokenInfoFile string `mapstructure:"token_info_file" yaml:"token_info_file"`
	CookieFile    string `mapstructure:"cookie_file" yaml:"cookie_file"`
	CookieDomain  string `mapstructure:"cookie_domain" yaml:"cookie_domain"`
	// RequestsLog, when set, receives every observed request as JSON.
	RequestsLog string `mapstructure:"requests_log" yaml:"requests_log"`
}

// MetricsConfig controls the prometheus textfile output.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "authtap")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.incognito", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 768})
	v.SetDefault("browser.persona.user_agent", "")
	v.SetDefault("browser.persona.languages", []string{"en-US", "en"})
	v.SetDefault("browser.persona.timezone", "")
	v.SetDefault("browser.persona.locale", "en-US")

	// -- Capture --
	v.SetDefault("capture.target_url", "")
	v.SetDefault("capture.trigger_urls", []string{})
	v.SetDefault("capture.mode", ModeNetwork)
	v.SetDefault("capture.policy", PolicyFirst)
	v.SetDefault("capture.poll_interval", "1s")
	v.SetDefault("capture.max_attempts", 40)
	v.SetDefault("capture.navigation_timeout", "60s")
	v.SetDefault("capture.post_load_wait", "2s")
	v.SetDefault("capture.reset_on_navigation", false)
	v.SetDefault("capture.url_filter", "")
	v.SetDefault("capture.verify_url", "")

	// -- Artifacts --
	v.SetDefault("artifacts.token_file", "bearer_token.txt")
	v.SetDefault("artifacts.token_info_file", "")
	v.SetDefault("artifacts.cookie_file", "")
	v.SetDefault("artifacts.cookie_domain", "")
	v.SetDefault("artifacts.requests_log", "")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading "~" in every path-valued setting.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.BrowserCfg.UserDataDir,
		&c.BrowserCfg.ExecPath,
		&c.ArtifactsCfg.TokenFile,
		&c.ArtifactsCfg.TokenInfoFile,
		&c.ArtifactsCfg.CookieFile,
		&c.ArtifactsCfg.RequestsLog,
		&c.MetricsCfg.Textfile,
	}
	for _, p := range paths {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("could not expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.CaptureCfg.Validate(); err != nil {
		return fmt.Errorf("capture configuration invalid: %w", err)
	}
	if c.MetricsCfg.Enabled && c.MetricsCfg.Textfile == "" {
		return fmt.Errorf("metrics.textfile is required when metrics are enabled")
	}
	return nil
}

// Validate checks the capture settings. The target URL is not checked here
// because it is commonly supplied as a command argument after loading.
func (c *CaptureConfig) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("capture.poll_interval must be a positive duration")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("capture.max_attempts must be a positive integer")
	}
	switch strings.ToLower(c.Mode) {
	case ModeNetwork, ModeHook, ModeBoth:
	default:
		return fmt.Errorf("capture.mode must be one of network, hook, both (got %q)", c.Mode)
	}
	switch strings.ToLower(c.Policy) {
	case PolicyFirst, PolicyLatest:
	default:
		return fmt.Errorf("capture.policy must be one of first, latest (got %q)", c.Policy)
	}
	if c.VerifyURL != "" {
		u, err := url.Parse(c.VerifyURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("capture.verify_url must be an absolute http(s) URL (got %q)", c.VerifyURL)
		}
	}
	return nil
}
