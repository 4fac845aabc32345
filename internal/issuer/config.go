package issuer

import (
	"fmt"
	"time"
)

type Config struct {
	InChannelSize  int           `mapstructure:"in_channel_size"`
	MaxBatch       int           `mapstructure:"max_batch"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

func (c *Config) Validate() error {
	if c.InChannelSize <= 0 {
		return fmt.Errorf("in_channel_size must be > 0")
	}
	if c.MaxBatch <= 0 || c.MaxBatch > 65535 {
		return fmt.Errorf("max_batch must be in range 1..65535")
	}
	// 0 - no per request timeout
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be >= 0")
	}
	return nil
}
