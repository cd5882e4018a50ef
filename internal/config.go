package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/prappser/splatfetch/internal/assets"
	"github.com/prappser/splatfetch/internal/cache"
	"github.com/prappser/splatfetch/internal/downloader"
	"github.com/prappser/splatfetch/internal/prune"
	"github.com/prappser/splatfetch/internal/remote"
	"github.com/prappser/splatfetch/internal/session"
	"github.com/spf13/viper"
)

const (
	defaultConfigFile = "files/config.yaml"
	envPrefix         = "SPLATFETCH"
)

type Config struct {
	Listen         string            `mapstructure:"listen"`
	AllowedOrigins []string          `mapstructure:"allowed_origins"`
	TickInterval   time.Duration     `mapstructure:"tick_interval"`
	Server         remote.Config     `mapstructure:"server"`
	Download       downloader.Config `mapstructure:"download"`
	Cache          cache.Config      `mapstructure:"cache"`
	Prune          prune.Config      `mapstructure:"prune"`
	Assets         assets.Config     `mapstructure:"assets"`
	Session        session.Config    `mapstructure:"session"`
	Log            LogConfig         `mapstructure:"log"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:8090")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("tick_interval", "100ms")

	v.SetDefault("server.url", "http://127.0.0.1:8000")
	v.SetDefault("server.upload_timeout", "120s")
	v.SetDefault("server.info_timeout", "10s")
	v.SetDefault("server.chunk_timeout", "30s")
	v.SetDefault("server.max_conns_per_host", 0)

	v.SetDefault("download.max_in_flight", 0)

	v.SetDefault("cache.dir", "cache/ply")
	v.SetDefault("cache.max_age", "24h")
	v.SetDefault("cache.sweep_interval", "1h")

	v.SetDefault("prune.keep_ratio", 0)
	v.SetDefault("prune.method", string(prune.MethodImportance))

	v.SetDefault("assets.dir", "assets")
	v.SetDefault("session.artifact_path", "assets/generated.ply")
	v.SetDefault("session.pruned_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 1)
}

// LoadConfig reads path (or files/config.yaml when empty) and applies
// SPLATFETCH_* environment overrides. A missing default file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Server.URL == "" {
		return nil, errors.New("server.url must be set")
	}
	if config.Prune.KeepRatio < 0 || config.Prune.KeepRatio > 1 {
		return nil, fmt.Errorf("prune.keep_ratio must be within [0, 1], got %v", config.Prune.KeepRatio)
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 100 * time.Millisecond
	}
	return &config, nil
}
