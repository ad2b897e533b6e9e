package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", `
MW_API_ENDPOINT=https://dotenv.example/w/api.php
MW_USERNAME="Bot@demo"
MW_PASSWORD='from-dotenv'
MW_LOG_LEVEL=warn
`)
	config := writeFile(t, dir, "mwapi.yaml", `
api_endpoint: https://file.example/w/api.php
edit_interval: 2s
log:
  level: debug
`)
	t.Setenv("MW_API_ENDPOINT", "https://env.example/w/api.php")
	t.Setenv("MW_MAXLAG", "9")

	cfg, err := LoadConfig(config, dotenv)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example/w/api.php", cfg.APIEndpoint)
	assert.Equal(t, "Bot@demo", cfg.Username)
	assert.Equal(t, "from-dotenv", cfg.Password)
	assert.Equal(t, 9, cfg.MaxLag)
	assert.Equal(t, 2*time.Second, cfg.EditInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.False(t, cfg.OAuth.Enabled())
}

func TestLoadConfig_MissingDotEnvIsFine(t *testing.T) {
	dir := t.TempDir()
	config := writeFile(t, dir, "mwapi.yaml", "api_endpoint: https://file.example/w/api.php\n")

	cfg, err := LoadConfig(config, filepath.Join(dir, "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxLag)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			APIEndpoint: "https://example.org/w/api.php",
			Log:         LogConfig{Level: "info", Format: "console"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "minimal", mutate: func(*Config) {}},
		{name: "missing endpoint", mutate: func(c *Config) { c.APIEndpoint = "" }, wantErr: true},
		{name: "username without password", mutate: func(c *Config) { c.Username = "Bot" }, wantErr: true},
		{name: "oauth ok", mutate: func(c *Config) {
			c.OAuth = OAuthConfig{ConsumerKey: "ck", ConsumerSecret: "cs", TokenKey: "tk", TokenSecret: "ts"}
		}},
		{name: "oauth without secret", mutate: func(c *Config) { c.OAuth.ConsumerKey = "ck" }, wantErr: true},
		{name: "oauth token half set", mutate: func(c *Config) {
			c.OAuth = OAuthConfig{ConsumerKey: "ck", ConsumerSecret: "cs", TokenKey: "tk"}
		}, wantErr: true},
		{name: "oauth and password", mutate: func(c *Config) {
			c.OAuth = OAuthConfig{ConsumerKey: "ck", ConsumerSecret: "cs"}
			c.Username, c.Password = "Bot", "pw"
		}, wantErr: true},
		{name: "negative maxlag", mutate: func(c *Config) { c.MaxLag = -1 }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewClient_FromConfig(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		APIEndpoint: "https://example.org/w/api.php",
		UserAgent:   "test/1.0",
		Timeout:     time.Second,
		OAuth:       OAuthConfig{ConsumerKey: "ck", ConsumerSecret: "cs"},
		Log:         LogConfig{Level: "info", Format: "json"},
	}
	c, err := newClient(cfg, setupLogger(cfg.Log), nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.APIEndpoint, c.Endpoint())
}
