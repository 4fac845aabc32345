package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zhukov-alex/flakeid/internal/registry"
	"github.com/zhukov-alex/flakeid/pkg/flake"
)

const (
	SourcePrivateIP = "private_ip"
	SourceStatic    = "static"
	SourceEnv       = "env"
)

type GeneratorConfig struct {
	// StartTime is an RFC3339 timestamp. Empty means flake.DefaultStartTime.
	StartTime string          `mapstructure:"start_time"`
	MachineID MachineIDConfig `mapstructure:"machine_id"`
	Check     registry.Config `mapstructure:"check"`
}

type MachineIDConfig struct {
	Source string `mapstructure:"source"`
	Value  int    `mapstructure:"value"`
	Env    string `mapstructure:"env"`
}

func (g *GeneratorConfig) Validate() error {
	if g.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, g.StartTime); err != nil {
			return fmt.Errorf("start_time must be RFC3339: %w", err)
		}
	}
	if err := g.MachineID.Validate(); err != nil {
		return fmt.Errorf("machine_id: %w", err)
	}
	if err := g.Check.Validate(); err != nil {
		return fmt.Errorf("check: %w", err)
	}
	return nil
}

func (m *MachineIDConfig) Validate() error {
	switch m.Source {
	case "", SourcePrivateIP:
	case SourceStatic:
		if m.Value < 0 || m.Value > 65535 {
			return fmt.Errorf("value must be in range 0..65535")
		}
	case SourceEnv:
		if m.Env == "" {
			return fmt.Errorf("env is required for source=env")
		}
	default:
		return fmt.Errorf("unsupported source: %q", m.Source)
	}
	return nil
}

// Options translates the section into generator options. The machine id
// check is added by the caller once the registry is built.
func (g *GeneratorConfig) Options() []flake.Option {
	var opts []flake.Option
	if g.StartTime != "" {
		// validated in Validate
		st, _ := time.Parse(time.RFC3339, g.StartTime)
		opts = append(opts, flake.WithStartTime(st))
	}
	if fn := g.MachineID.resolver(); fn != nil {
		opts = append(opts, flake.WithMachineID(fn))
	}
	return opts
}

func (m *MachineIDConfig) resolver() func() (uint16, error) {
	switch m.Source {
	case SourceStatic:
		id := uint16(m.Value)
		return func() (uint16, error) { return id, nil }
	case SourceEnv:
		name := m.Env
		return func() (uint16, error) {
			raw := strings.TrimSpace(os.Getenv(name))
			if raw == "" {
				return 0, fmt.Errorf("%s is not set", name)
			}
			id, err := strconv.ParseUint(raw, 10, 16)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", name, err)
			}
			return uint16(id), nil
		}
	default:
		return nil
	}
}
