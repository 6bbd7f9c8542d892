package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         string
	DSN          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	AuthEnabled bool
	Issuer      string
	JWKSURL     string
	Audience    string

	AnsibleProjectPath string
	PlaybookBinary     string
	InventoryBinary    string
	ApplyPlaybook      string
	ApplyTimeout       time.Duration
	ApplyMaxRetries    int
	ReconcileInterval  time.Duration

	LogLevel  string
	LogFormat string
}

// LoadConfig reads the configuration from the environment and, when
// CONFIG_FILE is set, from that file. Environment variables win.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "4040")
	v.SetDefault("DB_CONN", "")
	v.SetDefault("READ_TIMEOUT", 3*time.Second)
	v.SetDefault("WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("AUTH_ENABLED", false)
	v.SetDefault("AUTH_ISSUER", "")
	v.SetDefault("AUTH_JWKS_URL", "")
	v.SetDefault("AUTH_AUDIENCE", "")
	v.SetDefault("ANSIBLE_PROJECT_PATH", ".")
	v.SetDefault("ANSIBLE_PLAYBOOK_BIN", "ansible-playbook")
	v.SetDefault("ANSIBLE_INVENTORY_BIN", "ansible-inventory")
	v.SetDefault("APPLY_PLAYBOOK", "apply-config.yml")
	v.SetDefault("APPLY_TIMEOUT", 10*time.Minute)
	v.SetDefault("APPLY_MAX_RETRIES", 3)
	v.SetDefault("RECONCILE_INTERVAL", time.Second)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := Config{
		Port:               v.GetString("PORT"),
		DSN:                v.GetString("DB_CONN"),
		ReadTimeout:        v.GetDuration("READ_TIMEOUT"),
		WriteTimeout:       v.GetDuration("WRITE_TIMEOUT"),
		AuthEnabled:        v.GetBool("AUTH_ENABLED"),
		Issuer:             v.GetString("AUTH_ISSUER"),
		JWKSURL:            v.GetString("AUTH_JWKS_URL"),
		Audience:           v.GetString("AUTH_AUDIENCE"),
		AnsibleProjectPath: v.GetString("ANSIBLE_PROJECT_PATH"),
		PlaybookBinary:     v.GetString("ANSIBLE_PLAYBOOK_BIN"),
		InventoryBinary:    v.GetString("ANSIBLE_INVENTORY_BIN"),
		ApplyPlaybook:      v.GetString("APPLY_PLAYBOOK"),
		ApplyTimeout:       v.GetDuration("APPLY_TIMEOUT"),
		ApplyMaxRetries:    v.GetInt("APPLY_MAX_RETRIES"),
		ReconcileInterval:  v.GetDuration("RECONCILE_INTERVAL"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
	}
	if cfg.AuthEnabled && cfg.Issuer == "" {
		return Config{}, fmt.Errorf("AUTH_ENABLED requires AUTH_ISSUER")
	}
	if cfg.ApplyMaxRetries < 0 {
		return Config{}, fmt.Errorf("APPLY_MAX_RETRIES must not be negative")
	}
	return cfg, nil
}
