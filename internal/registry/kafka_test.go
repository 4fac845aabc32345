package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeReader serves a fixed snapshot and then blocks until the scan times out.
type fakeReader struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

// messageLog is an in-memory single partition shared by producers and readers.
type messageLog struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (l *messageLog) append(value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, kafka.Message{
		Value:  append([]byte(nil), value...),
		Offset: int64(len(l.msgs)),
	})
}

func (l *messageLog) seed(t *testing.T, recs ...leaseRecord) {
	t.Helper()
	for _, rec := range recs {
		value, err := json.Marshal(rec)
		require.NoError(t, err)
		l.append(value)
	}
}

func (l *messageLog) records(t *testing.T) []leaseRecord {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := make([]leaseRecord, len(l.msgs))
	for i, m := range l.msgs {
		rec, err := decodeLease(m.Value)
		require.NoError(t, err)
		recs[i] = rec
	}
	return recs
}

func (l *messageLog) reader() messageReader {
	return &logReader{log: l}
}

type logReader struct {
	log *messageLog
	pos int
}

func (r *logReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.log.mu.Lock()
	if r.pos < len(r.log.msgs) {
		m := r.log.msgs[r.pos]
		m.HighWaterMark = int64(len(r.log.msgs))
		r.pos++
		r.log.mu.Unlock()
		return m, nil
	}
	r.log.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *logReader) Close() error { return nil }

func newTestProducer(t *testing.T) *mocks.AsyncProducer {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewAsyncProducer(t, cfg)
}

// expectLease appends the published record to log once check accepts it.
func expectLease(p *mocks.AsyncProducer, log *messageLog, check func(rec leaseRecord) error) {
	p.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		rec, err := decodeLease(val)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(rec); err != nil {
				return err
			}
		}
		log.append(val)
		return nil
	})
}

func newTestKafka(t *testing.T, producer sarama.AsyncProducer, instance string, ttl time.Duration, newReader func() messageReader) *Kafka {
	cfg := &KafkaConfig{
		Brokers:     []string{"localhost:9092"},
		Topic:       "flake-leases",
		Instance:    instance,
		LeaseTTL:    ttl,
		ScanTimeout: 100 * time.Millisecond,
	}
	return newKafka(zaptest.NewLogger(t), cfg, producer, newReader)
}

func TestKafka_ClaimAndRelease(t *testing.T) {
	now := time.Now()
	log := &messageLog{}
	log.seed(t,
		leaseRecord{MachineID: 42, Instance: "other", ExpiresAt: now.Add(-time.Minute).UnixMilli()},
		leaseRecord{MachineID: 43, Instance: "other", ExpiresAt: now.Add(time.Minute).UnixMilli()},
	)

	producer := newTestProducer(t)
	expectLease(producer, log, func(rec leaseRecord) error {
		if rec.MachineID != 42 || rec.Instance != "me" || rec.ExpiresAt <= now.UnixMilli() {
			return fmt.Errorf("unexpected claim %+v", rec)
		}
		return nil
	})
	expectLease(producer, log, func(rec leaseRecord) error {
		if rec.MachineID != 42 || rec.ExpiresAt != 0 {
			return fmt.Errorf("unexpected release %+v", rec)
		}
		return nil
	})

	k := newTestKafka(t, producer, "me", time.Hour, log.reader)

	ok, err := k.Claim(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, k.Close(ctx))
	assert.Len(t, log.records(t), 4)
}

func TestKafka_ClaimTaken(t *testing.T) {
	log := &messageLog{}
	log.seed(t, leaseRecord{MachineID: 42, Instance: "other", ExpiresAt: time.Now().Add(time.Minute).UnixMilli()})
	producer := newTestProducer(t)

	k := newTestKafka(t, producer, "me", time.Hour, log.reader)

	ok, err := k.Claim(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, k.Close(context.Background()))
}

func TestKafka_EmptyTopicScanTimesOut(t *testing.T) {
	log := &messageLog{}
	producer := newTestProducer(t)
	expectLease(producer, log, nil)
	expectLease(producer, log, nil)

	k := newTestKafka(t, producer, "me", time.Hour, log.reader)

	ok, err := k.Claim(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, k.Close(context.Background()))
}

func TestKafka_ClaimPublishFails(t *testing.T) {
	producer := newTestProducer(t)
	producer.ExpectInputAndFail(sarama.ErrNotLeaderForPartition)

	reader := &fakeReader{}
	k := newTestKafka(t, producer, "me", time.Hour, func() messageReader { return reader })

	ok, err := k.Claim(context.Background(), 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	assert.True(t, reader.closed)

	require.NoError(t, k.Close(context.Background()))
}

func TestKafka_ConcurrentClaimantsOneWins(t *testing.T) {
	log := &messageLog{}

	producerA := newTestProducer(t)
	expectLease(producerA, log, nil) // claim
	expectLease(producerA, log, nil) // release
	a := newTestKafka(t, producerA, "a", time.Hour, log.reader)

	// b scanned before a published, so its first view of the topic is empty
	producerB := newTestProducer(t)
	expectLease(producerB, log, nil)
	scans := 0
	b := newTestKafka(t, producerB, "b", time.Hour, func() messageReader {
		scans++
		if scans == 1 {
			return &fakeReader{}
		}
		return log.reader()
	})

	ok, err := a.Claim(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Claim(context.Background(), 9)
	require.NoError(t, err)
	assert.False(t, ok, "the later claim in topic order must lose")

	recs := log.records(t)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Instance)
	assert.Equal(t, "b", recs[1].Instance)

	// every reader of the topic agrees on the holder
	table := make(leaseTable)
	for _, rec := range recs {
		table.apply(rec)
	}
	assert.Equal(t, "a", table[9].Instance)

	require.NoError(t, b.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestKafka_SecondClaimWaitsForAck(t *testing.T) {
	log := &messageLog{}
	producer := newTestProducer(t)
	expectLease(producer, log, nil)
	producer.ExpectInputAndFail(sarama.ErrNotEnoughReplicas)
	expectLease(producer, log, func(rec leaseRecord) error {
		if rec.MachineID != 1 || rec.ExpiresAt != 0 {
			return fmt.Errorf("unexpected release %+v", rec)
		}
		return nil
	})

	k := newTestKafka(t, producer, "me", time.Hour, log.reader)

	ok, err := k.Claim(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = k.Claim(context.Background(), 2)
	assert.False(t, ok)
	assert.ErrorIs(t, err, sarama.ErrNotEnoughReplicas)

	require.NoError(t, k.Close(context.Background()))
}

func TestKafka_Heartbeat(t *testing.T) {
	renewed := make(chan leaseRecord, 4)
	log := &messageLog{}

	producer := newTestProducer(t)
	expectLease(producer, log, nil) // claim
	for i := 0; i < 2; i++ {
		expectLease(producer, log, func(rec leaseRecord) error {
			renewed <- rec
			return nil
		})
	}
	expectLease(producer, log, nil) // release

	k := newTestKafka(t, producer, "me", 300*time.Millisecond, log.reader)

	ok, err := k.Claim(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 2; i++ {
		select {
		case rec := <-renewed:
			assert.Equal(t, uint16(5), rec.MachineID)
			assert.Greater(t, rec.ExpiresAt, time.Now().UnixMilli())
		case <-time.After(time.Second):
			t.Fatal("lease was not renewed")
		}
	}

	require.NoError(t, k.Close(context.Background()))
}
