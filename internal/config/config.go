// Package config loads fieldsync settings from the environment and an
// optional config file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// GatewayURL is the base URL of the remote REST gateway.
	GatewayURL string `mapstructure:"FIELDSYNC_GATEWAY_URL"`

	// APIKey is the gateway project API key sent with every request.
	APIKey string `mapstructure:"FIELDSYNC_API_KEY"`

	// AccessToken is the signed user token used for auth and session decode.
	AccessToken string `mapstructure:"FIELDSYNC_ACCESS_TOKEN"`

	// DBPath is the path of the local cache database.
	DBPath string `mapstructure:"FIELDSYNC_DB_PATH"`

	// HealthURL is probed to decide whether the gateway is reachable.
	HealthURL string `mapstructure:"FIELDSYNC_HEALTH_URL"`

	// ProbeInterval is how often connectivity is re-checked.
	ProbeInterval time.Duration `mapstructure:"FIELDSYNC_PROBE_INTERVAL"`

	// RequestTimeout bounds individual gateway requests.
	RequestTimeout time.Duration `mapstructure:"FIELDSYNC_REQUEST_TIMEOUT"`

	// StatusPort is the port of the status WebSocket server.
	StatusPort int `mapstructure:"FIELDSYNC_STATUS_PORT"`

	// LogFile receives daemon logs. Empty means stderr.
	LogFile string `mapstructure:"FIELDSYNC_LOG_FILE"`
}

// Load reads configuration from the environment, falling back to
// ~/.fieldsync/config.yaml when present. Environment wins.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("FIELDSYNC_DB_PATH", defaultDBPath())
	v.SetDefault("FIELDSYNC_PROBE_INTERVAL", 15*time.Second)
	v.SetDefault("FIELDSYNC_REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("FIELDSYNC_STATUS_PORT", 8787)

	// Keys without defaults need an explicit binding for Unmarshal to see
	// their environment values.
	for _, key := range []string{
		"FIELDSYNC_GATEWAY_URL",
		"FIELDSYNC_API_KEY",
		"FIELDSYNC_ACCESS_TOKEN",
		"FIELDSYNC_HEALTH_URL",
		"FIELDSYNC_LOG_FILE",
	} {
		_ = v.BindEnv(key)
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".fieldsync"))
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.HealthURL == "" && cfg.GatewayURL != "" {
		cfg.HealthURL = cfg.GatewayURL + "/rest/v1/"
	}
	return cfg, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fieldsync.db"
	}
	return filepath.Join(home, ".fieldsync", "cache.db")
}
