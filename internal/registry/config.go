package registry

import (
	"fmt"
	"time"
)

// Config selects how a resolved machine id is checked against other
// generators before it is used.
type Config struct {
	Type     string          `mapstructure:"type"`
	LockFile *LockFileConfig `mapstructure:"lockfile"`
	Kafka    *KafkaConfig    `mapstructure:"kafka"`
}

type LockFileConfig struct {
	Dir string `mapstructure:"dir"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// Instance identifies this process in lease records. Defaults to
	// hostname-pid.
	Instance    string        `mapstructure:"instance"`
	LeaseTTL    time.Duration `mapstructure:"lease_ttl"`
	ScanTimeout time.Duration `mapstructure:"scan_timeout"`
}

func (c *Config) Validate() error {
	switch c.Type {
	case "", "none":
	case "lockfile":
		if c.LockFile == nil {
			return fmt.Errorf("lockfile config must be provided for type=lockfile")
		}
		if c.LockFile.Dir == "" {
			return fmt.Errorf("lockfile.dir is required")
		}
	case "kafka":
		if c.Kafka == nil {
			return fmt.Errorf("kafka config must be provided for type=kafka")
		}
		if err := c.Kafka.Validate(); err != nil {
			return fmt.Errorf("kafka config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported check type: %q", c.Type)
	}
	return nil
}

func (k *KafkaConfig) Validate() error {
	if len(k.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty")
	}
	if k.Topic == "" {
		return fmt.Errorf("kafka.topic is required")
	}
	if k.LeaseTTL < 3*time.Second {
		return fmt.Errorf("kafka.lease_ttl must be >= 3s")
	}
	if k.ScanTimeout <= 0 {
		return fmt.Errorf("kafka.scan_timeout must be > 0")
	}
	return nil
}
