package logger

import (
	"fmt"
)

type Config struct {
	// Level is overridden by LOG_LEVEL when set.
	Level      string `mapstructure:"level"`
	TimeFormat string `mapstructure:"time_format"`

	EnableWriteToFile bool   `mapstructure:"enable_write_to_file"`
	FilePath          string `mapstructure:"file_path"`
	MaxSize           int    `mapstructure:"max_size"` // in MB
	MaxBackups        int    `mapstructure:"max_backups"`
	MaxAgeDays        int    `mapstructure:"max_age_days"`
	Compress          bool   `mapstructure:"compress"`
}

func (c *Config) Validate() error {
	if c.Level != "" {
		if _, err := parseLevel(c.Level); err != nil {
			return err
		}
	}
	if c.TimeFormat != "" {
		if _, err := parseTimeEncoder(c.TimeFormat); err != nil {
			return err
		}
	}
	if c.EnableWriteToFile {
		if c.FilePath == "" {
			return fmt.Errorf("file_path is required")
		}
		if c.MaxSize <= 0 {
			return fmt.Errorf("max_size must be > 0")
		}
		if c.MaxBackups < 0 {
			return fmt.Errorf("max_backups must be >= 0")
		}
		if c.MaxAgeDays < 0 {
			return fmt.Errorf("max_age_days must be >= 0")
		}
	}
	return nil
}
