//go:build acceptance

package acceptance_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/zhukov-alex/flakeid/internal/server"
	"github.com/zhukov-alex/flakeid/pkg/flake"
)

// Runs against a flaked started with config/config.yaml and check.type=kafka.

type lease struct {
	MachineID uint16 `json:"machine_id"`
	Instance  string `json:"instance"`
	ExpiresAt int64  `json:"expires_at_ms"`
}

func TestFlakedEndToEnd(t *testing.T) {
	const count = 100

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := server.DialTCP(ctx, "localhost:7000")
	require.NoError(t, err)
	defer client.Close()

	var prev flake.ID
	var machineID uint64
	for i := 0; i < count; i++ {
		id, err := client.Next(ctx)
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
		machineID = flake.Decompose(id).MachineID
	}

	ids, err := client.NextBatch(ctx, count)
	require.NoError(t, err)
	require.Len(t, ids, count)
	require.Greater(t, ids[0], prev)

	d, err := client.Decompose(ctx, prev)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), d.IssuedAt, time.Minute)

	leases := readLeases(ctx, t, "flakeid-leases")
	require.Contains(t, leases, uint16(machineID))
	require.Greater(t, leases[uint16(machineID)].ExpiresAt, time.Now().UnixMilli())
}

func readLeases(ctx context.Context, t *testing.T, topic string) map[uint16]lease {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{"localhost:9092"},
		Topic:       topic,
		Partition:   0,
		StartOffset: kafka.FirstOffset,
		MaxWait:     1 * time.Second,
		MinBytes:    1,
		MaxBytes:    1_000_000,
	})
	defer r.Close()

	leases := make(map[uint16]lease)
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("failed to read from kafka: %v", err)
		}
		var l lease
		require.NoError(t, json.Unmarshal(m.Value, &l))
		leases[l.MachineID] = l
		if m.Offset+1 >= m.HighWaterMark {
			return leases
		}
	}
}
