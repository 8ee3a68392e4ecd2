package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
	SSLCert    string `mapstructure:"ssl_cert"`
	SSLKey     string `mapstructure:"ssl_key"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	PingInterval time.Duration `mapstructure:"ping_interval"`

	STUNServers []string `mapstructure:"stun_servers"`

	FFmpegPath string `mapstructure:"ffmpeg_path"`
	SampleRate int    `mapstructure:"sample_rate"`

	Language         string        `mapstructure:"language"`
	InterimResults   bool          `mapstructure:"interim_results"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_interval", "10s")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("sample_rate", 48000)
	v.SetDefault("language", "en-US")
	v.SetDefault("interim_results", false)
	// The recognition provider caps stream duration around a minute;
	// rotate comfortably inside that.
	v.SetDefault("rotation_interval", "50s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
