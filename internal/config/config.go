package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "DAYBOOK"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "daybook.db"
	defaultLogLevel            = "info"
	defaultTokenTTLMinutes     = 30
	defaultAnalyzerCommand     = "python3"
	defaultAnalyzerTimeoutSecs = 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	TokenTTL        time.Duration
	OIDCAudience    string
	OIDCJWKSURL     string
	AnalyzerCommand string
	AnalyzerScript  string
	AnalyzerTimeout time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("analyzer.command", defaultAnalyzerCommand)
	configViper.SetDefault("analyzer.timeout_seconds", defaultAnalyzerTimeoutSecs)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		OIDCAudience:    configViper.GetString("oidc.audience"),
		OIDCJWKSURL:     configViper.GetString("oidc.jwks_url"),
		AnalyzerCommand: configViper.GetString("analyzer.command"),
		AnalyzerScript:  configViper.GetString("analyzer.script"),
		AnalyzerTimeout: time.Duration(configViper.GetInt("analyzer.timeout_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.OIDCAudience) == "" {
		return fmt.Errorf("oidc.audience is required")
	}
	if strings.TrimSpace(c.OIDCJWKSURL) == "" {
		return fmt.Errorf("oidc.jwks_url is required")
	}
	if strings.TrimSpace(c.AnalyzerScript) == "" {
		return fmt.Errorf("analyzer.script is required")
	}
	if c.AnalyzerTimeout <= 0 {
		return fmt.Errorf("analyzer.timeout_seconds must be positive")
	}
	return nil
}
