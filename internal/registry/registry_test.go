package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNew_Nop(t *testing.T) {
	r, err := New(zaptest.NewLogger(t), &Config{Type: "none"})
	require.NoError(t, err)

	ok, err := r.Claim(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, r.Close(context.Background()))
}

func TestCheckFunc(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	holder, err := New(logger, &Config{Type: "lockfile", LockFile: &LockFileConfig{Dir: dir}})
	require.NoError(t, err)
	defer holder.Close(context.Background())

	_, err = holder.Claim(context.Background(), 100)
	require.NoError(t, err)

	other := NewLockDir(logger, dir)
	defer other.Close(context.Background())

	check := CheckFunc(context.Background(), logger, other, time.Second)
	assert.False(t, check(100))
	assert.True(t, check(101))
}

func TestConfig_Validate(t *testing.T) {
	kafkaCfg := &KafkaConfig{
		Brokers:     []string{"localhost:9092"},
		Topic:       "leases",
		LeaseTTL:    30 * time.Second,
		ScanTimeout: time.Second,
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"empty means none", Config{}, ""},
		{"none", Config{Type: "none"}, ""},
		{"lockfile", Config{Type: "lockfile", LockFile: &LockFileConfig{Dir: "/tmp/x"}}, ""},
		{"kafka", Config{Type: "kafka", Kafka: kafkaCfg}, ""},
		{"lockfile missing", Config{Type: "lockfile"}, "lockfile config must be provided"},
		{"lockfile no dir", Config{Type: "lockfile", LockFile: &LockFileConfig{}}, "lockfile.dir"},
		{"kafka missing", Config{Type: "kafka"}, "kafka config must be provided"},
		{"kafka short ttl", Config{Type: "kafka", Kafka: &KafkaConfig{
			Brokers: []string{"b"}, Topic: "t", LeaseTTL: time.Second, ScanTimeout: time.Second,
		}}, "lease_ttl"},
		{"unknown", Config{Type: "etcd"}, "unsupported check type"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
