// Package config loads service settings from the environment and an
// optional config file. The four secrets the service cannot run without are
// validated up front so a misconfigured deployment fails at startup, not on
// the first request.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Required environment variables. These carry secrets or deployment
// identity and have no defaults.
const (
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvCeloRPCURL      = "CELO_RPC_URL"
	EnvPrivateKey      = "PRIVATE_KEY"
	EnvContractAddress = "CONTRACT_ADDRESS"
)

// Config is the full service configuration.
type Config struct {
	// Oracle settings.
	OpenAIAPIKey  string        `mapstructure:"openai_api_key"`
	OracleURL     string        `mapstructure:"oracle_url"`
	OracleModel   string        `mapstructure:"oracle_model"`
	OracleTimeout time.Duration `mapstructure:"oracle_timeout"`

	// Chain settings.
	CeloRPCURL      string        `mapstructure:"celo_rpc_url"`
	PrivateKey      string        `mapstructure:"private_key"`
	ContractAddress string        `mapstructure:"contract_address"`
	ExplorerURL     string        `mapstructure:"explorer_url"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`

	// HTTP settings.
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	EnableCORS     bool          `mapstructure:"enable_cors"`
	Debug          bool          `mapstructure:"debug"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Session store settings.
	MaxSessions int           `mapstructure:"max_sessions"`
	SessionTTL  time.Duration `mapstructure:"session_ttl"`
}

// Load reads configuration. Precedence: environment over config file over
// defaults. The required secrets are environment-only by convention but a
// config file can supply them in development.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("oracle_url", "https://api.openai.com/v1")
	v.SetDefault("oracle_model", "gpt-4o")
	v.SetDefault("oracle_timeout", 90*time.Second)
	v.SetDefault("explorer_url", "https://alfajores.celoscan.io")
	v.SetDefault("confirm_timeout", 2*time.Minute)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 3001)
	v.SetDefault("enable_cors", true)
	v.SetDefault("debug", false)
	v.SetDefault("request_timeout", 5*time.Minute)
	v.SetDefault("max_sessions", 4096)
	v.SetDefault("session_ttl", 24*time.Hour)

	// Tunables come prefixed: MERITPAY_PORT, MERITPAY_ORACLE_MODEL, etc.
	v.SetEnvPrefix("MERITPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// PORT is honored unprefixed for parity with the original deployment;
	// MERITPAY_PORT wins when both are set.
	if err := v.BindEnv("port", "MERITPAY_PORT", "PORT"); err != nil {
		return nil, err
	}

	// The secrets keep their historical unprefixed names.
	for key, env := range map[string]string{
		"openai_api_key":   EnvOpenAIAPIKey,
		"celo_rpc_url":     EnvCeloRPCURL,
		"private_key":      EnvPrivateKey,
		"contract_address": EnvContractAddress,
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	v.SetConfigName("meritpay-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every required setting is present.
func (c *Config) Validate() error {
	missing := make([]string, 0, 4)
	for _, item := range []struct {
		value string
		env   string
	}{
		{c.OpenAIAPIKey, EnvOpenAIAPIKey},
		{c.CeloRPCURL, EnvCeloRPCURL},
		{c.PrivateKey, EnvPrivateKey},
		{c.ContractAddress, EnvContractAddress},
	} {
		if item.value == "" {
			missing = append(missing, item.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variable: %s", strings.Join(missing, ", "))
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}
