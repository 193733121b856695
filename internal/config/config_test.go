// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "authtap", cfg.Logger().ServiceName)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 1366, cfg.Browser().Viewport["width"])
	assert.Equal(t, time.Second, cfg.Capture().PollInterval)
	assert.Equal(t, 40, cfg.Capture().MaxAttempts)
	assert.Equal(t, ModeNetwork, cfg.Capture().Mode)
	assert.Equal(t, PolicyFirst, cfg.Capture().Policy)
	assert.Equal(t, "bearer_token.txt", cfg.Artifacts().TokenFile)
	assert.False(t, cfg.Metrics().Enabled)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Capture Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Capture()
		require.NoError(t, valid.Validate())

		zeroInterval := valid
		zeroInterval.PollInterval = 0
		err := zeroInterval.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "capture.poll_interval must be a positive duration")

		zeroAttempts := valid
		zeroAttempts.MaxAttempts = 0
		err = zeroAttempts.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "capture.max_attempts must be a positive integer")

		badMode := valid
		badMode.Mode = "proxy"
		err = badMode.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "capture.mode must be one of")

		badPolicy := valid
		badPolicy.Policy = "random"
		err = badPolicy.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "capture.policy must be one of")

		// Policy names match what the recorder parses.
		lastPolicy := valid
		lastPolicy.Policy = "last"
		assert.Error(t, lastPolicy.Validate())

		upperCase := valid
		upperCase.Mode = "BOTH"
		upperCase.Policy = "Latest"
		assert.NoError(t, upperCase.Validate())

		for _, bad := range []string{"api.example.com/me", "ftp://api.example.com/", "https://"} {
			badVerify := valid
			badVerify.VerifyURL = bad
			err = badVerify.Validate()
			assert.Error(t, err, bad)
			assert.Contains(t, err.Error(), "capture.verify_url", bad)
		}
		goodVerify := valid
		goodVerify.VerifyURL = "https://api.example.com/v1/me"
		assert.NoError(t, goodVerify.Validate())
	})

	t.Run("Metrics Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.MetricsCfg.Enabled = true
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "metrics.textfile is required")

		cfg.MetricsCfg.Textfile = "/tmp/authtap.prom"
		assert.NoError(t, cfg.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  headless: false
  user_data_dir: ./chrome_profile
capture:
  target_url: "https://labs.example.com/tools"
  policy: latest
  mode: both
  poll_interval: 250ms
  max_attempts: 8
  trigger_urls:
    - "https://labs.example.com/tools/new"
artifacts:
  cookie_file: cookies.json
  cookie_domain: labs.example.com
  requests_log: debug/requests.json
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.False(t, cfg.Browser().Headless)
		assert.Equal(t, "./chrome_profile", cfg.Browser().UserDataDir)
		assert.Equal(t, "https://labs.example.com/tools", cfg.Capture().TargetURL)
		assert.Equal(t, PolicyLatest, cfg.Capture().Policy)
		assert.Equal(t, ModeBoth, cfg.Capture().Mode)
		assert.Equal(t, 250*time.Millisecond, cfg.Capture().PollInterval)
		assert.Equal(t, 8, cfg.Capture().MaxAttempts)
		assert.Equal(t, []string{"https://labs.example.com/tools/new"}, cfg.Capture().TriggerURLs)
		assert.Equal(t, "cookies.json", cfg.Artifacts().CookieFile)
		assert.Equal(t, "labs.example.com", cfg.Artifacts().CookieDomain)
		assert.Equal(t, "debug/requests.json", cfg.Artifacts().RequestsLog)
		assert.Empty(t, cfg.Capture().VerifyURL)
		// Defaults survive alongside file values.
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("capture.max_attempts", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "capture.max_attempts must be a positive integer")
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		homedir.DisableCache = true
		defer func() { homedir.DisableCache = false }()

		v := viper.New()
		SetDefaults(v)
		v.Set("artifacts.token_file", "~/tokens/bearer.txt")
		v.Set("artifacts.requests_log", "~/tokens/requests.json")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "tokens", "bearer.txt"), cfg.Artifacts().TokenFile)
		assert.Equal(t, filepath.Join(home, "tokens", "requests.json"), cfg.Artifacts().RequestsLog)
	})
}

// -- Setter Tests --

func TestConfigSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetCaptureTargetURL("https://app.example.com")
	iface.SetArtifactsCookieFile("out/cookies.json")

	assert.Equal(t, "https://app.example.com", iface.Capture().TargetURL)
	assert.Equal(t, "out/cookies.json", iface.Artifacts().CookieFile)
}
