package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay runtime parameters.
type Config struct {
	TCPAddress          string           `mapstructure:"tcp_address"`
	AudioAddress        string           `mapstructure:"audio_address"`
	VideoAddress        string           `mapstructure:"video_address"`
	AdminAddress        string           `mapstructure:"admin_address"`
	LogLevel            string           `mapstructure:"log_level"`
	DatabasePath        string           `mapstructure:"database_path"`
	ShutdownGracePeriod time.Duration    `mapstructure:"shutdown_grace_period"`
	ContentKey          ContentKeyConfig `mapstructure:"content_key"`
}

// ContentKeyConfig describes where the at-rest content key material comes from.
type ContentKeyConfig struct {
	PassphraseEnv string `mapstructure:"passphrase_env"`
}

const (
	defaultTCPAddress          = "0.0.0.0:5556"
	defaultAudioAddress        = "0.0.0.0:5557"
	defaultVideoAddress        = "0.0.0.0:5558"
	defaultLogLevel            = "info"
	defaultDatabasePath        = "data/chat.db"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultPassphraseEnv       = "RELAY_CONTENT_PASSPHRASE"
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with RELAY_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("tcp_address", defaultTCPAddress)
	v.SetDefault("audio_address", defaultAudioAddress)
	v.SetDefault("video_address", defaultVideoAddress)
	v.SetDefault("admin_address", "")
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("database_path", defaultDatabasePath)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("content_key.passphrase_env", defaultPassphraseEnv)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	if v.IsSet("shutdown_grace_period") {
		dur, err := time.ParseDuration(v.GetString("shutdown_grace_period"))
		if err != nil {
			return Config{}, fmt.Errorf("invalid shutdown_grace_period: %w", err)
		}
		cfg.ShutdownGracePeriod = dur
	} else {
		cfg.ShutdownGracePeriod = defaultShutdownGracePeriod
	}

	if cfg.TCPAddress == "" {
		cfg.TCPAddress = defaultTCPAddress
	}
	if cfg.AudioAddress == "" {
		cfg.AudioAddress = defaultAudioAddress
	}
	if cfg.VideoAddress == "" {
		cfg.VideoAddress = defaultVideoAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaultDatabasePath
	}
	if cfg.ContentKey.PassphraseEnv == "" {
		cfg.ContentKey.PassphraseEnv = defaultPassphraseEnv
	}

	return cfg, nil
}

// Passphrase fetches the content-key passphrase from the configured environment variable.
func (c Config) Passphrase() (string, error) {
	env := c.ContentKey.PassphraseEnv
	if env == "" {
		env = defaultPassphraseEnv
	}
	val := strings.TrimSpace(getenv(env))
	if val == "" {
		return "", fmt.Errorf("content passphrase env %s is empty", env)
	}
	return val, nil
}

// split out for testing.
var getenv = os.Getenv
