package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/zhukov-alex/flakeid/internal/issuer"
	"github.com/zhukov-alex/flakeid/internal/logger"
	"github.com/zhukov-alex/flakeid/internal/server"
)

type Config struct {
	MetricsAddr string `mapstructure:"metrics_addr"`

	Generator GeneratorConfig `mapstructure:"generator"`
	Issuer    issuer.Config   `mapstructure:"issuer"`
	Server    server.Config   `mapstructure:"server"`
	Logger    logger.Config   `mapstructure:"logger"`
}

func NewConfigInit(cfgFile *string) func() {
	return func() {
		if strings.TrimSpace(*cfgFile) == "" {
			log.Fatalf("invalid config file name")
		}
		if _, err := os.Stat(*cfgFile); err != nil {
			log.Fatalf("invalid config path: %v", err)
		}
		viper.SetConfigFile(*cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("Failed to read config: %v\n", err)
		}
	}
}

func New(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config: %w", err)
	}
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("generator config: %w", err)
	}
	if err := c.Issuer.Validate(); err != nil {
		return fmt.Errorf("issuer config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	return nil
}
