package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	APIEndpoint  string        `mapstructure:"api_endpoint"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxLag       int           `mapstructure:"maxlag"`
	EditInterval time.Duration `mapstructure:"edit_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	OAuth        OAuthConfig   `mapstructure:"oauth"`
	Log          LogConfig     `mapstructure:"log"`
}

type OAuthConfig struct {
	ConsumerKey    string `mapstructure:"consumer_key"`
	ConsumerSecret string `mapstructure:"consumer_secret"`
	TokenKey       string `mapstructure:"token_key"`
	TokenSecret    string `mapstructure:"token_secret"`
}

func (o OAuthConfig) Enabled() bool {
	return o.ConsumerKey != "" || o.TokenKey != ""
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}

const envPrefix = "MW"

// configKeys lists every key; each is also read from MW_<KEY> with dots as underscores.
var configKeys = []string{
	"api_endpoint", "username", "password", "user_agent", "maxlag", "edit_interval", "timeout",
	"oauth.consumer_key", "oauth.consumer_secret", "oauth.token_key", "oauth.token_secret",
	"log.level", "log.format", "log.color",
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadConfig resolves settings from, in order of precedence, MW_* environment variables,
// the config file, the dotenv file and defaults. A missing dotenv file is not an error;
// neither is a missing default config file.
func LoadConfig(configPath, dotenvPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := loadDotEnv(v, dotenvPath); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range configKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	} else {
		v.SetConfigName("mwapi")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/mwapi")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("user_agent", "mwapi-go-demo/0.2")
	v.SetDefault("maxlag", 5)
	v.SetDefault("edit_interval", "0s")
	v.SetDefault("timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.color", true)
}

// loadDotEnv layers MW_* entries of a dotenv file between the defaults and the config file.
func loadDotEnv(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	for _, k := range configKeys {
		name := strings.ToLower(envName(k))
		if dv.IsSet(name) {
			v.SetDefault(k, dv.Get(name))
		}
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.APIEndpoint == "" {
		return fmt.Errorf("%s is required", envName("api_endpoint"))
	}
	if cfg.Username != "" && cfg.Password == "" {
		return fmt.Errorf("%s is set but %s is empty", envName("username"), envName("password"))
	}
	if cfg.OAuth.Enabled() {
		if cfg.OAuth.ConsumerKey == "" || cfg.OAuth.ConsumerSecret == "" {
			return errors.New("oauth.consumer_key and oauth.consumer_secret are both required")
		}
		if (cfg.OAuth.TokenKey == "") != (cfg.OAuth.TokenSecret == "") {
			return errors.New("oauth.token_key and oauth.token_secret must be set together")
		}
		if cfg.Username != "" {
			return errors.New("use either a bot password or OAuth credentials, not both")
		}
	}
	if cfg.MaxLag < 0 {
		return fmt.Errorf("maxlag must not be negative: %d", cfg.MaxLag)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[cfg.Log.Format] {
		return fmt.Errorf("invalid log format: %s", cfg.Log.Format)
	}
	return nil
}

func setupLogger(cfg LogConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !cfg.Color,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
