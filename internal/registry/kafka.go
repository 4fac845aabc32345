package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Kafka claims machine ids through expiring leases on a compacted topic.
// Claim replays the topic with a kafka-go reader, publishes the lease with a
// sarama producer, then renews it every LeaseTTL/3 until Close.
type Kafka struct {
	cfg       *KafkaConfig
	logger    *zap.Logger
	producer  sarama.AsyncProducer
	newReader func() messageReader
	now       func() time.Time

	// seq tags outgoing messages so acks can be matched to their sender
	seq atomic.Uint64

	mu      sync.Mutex
	claimed map[uint16]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewKafka(logger *zap.Logger, cfg *KafkaConfig) (*Kafka, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Partitioner = sarama.NewManualPartitioner

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		logger.Error("failed to create Kafka producer", zap.Error(err))
		return nil, err
	}

	logger.Info("kafka lease registry initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)

	return newKafka(logger, cfg, producer, func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			Partition:   0,
			StartOffset: kafka.FirstOffset,
			MinBytes:    1,
			MaxBytes:    1_000_000,
			MaxWait:     250 * time.Millisecond,
		})
	}), nil
}

func newKafka(logger *zap.Logger, cfg *KafkaConfig, producer sarama.AsyncProducer, newReader func() messageReader) *Kafka {
	if cfg.Instance == "" {
		host, _ := os.Hostname()
		cfg.Instance = host + "-" + strconv.Itoa(os.Getpid())
	}
	return &Kafka{
		cfg:       cfg,
		logger:    logger,
		producer:  producer,
		newReader: newReader,
		now:       time.Now,
		claimed:   make(map[uint16]struct{}),
	}
}

func (k *Kafka) Claim(ctx context.Context, id uint16) (bool, error) {
	logger := k.logger.With(zap.String("method", "Claim"), zap.Uint16("machine_id", id))

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.claimed[id]; ok {
		return true, nil
	}

	leases, err := k.scan(ctx)
	if err != nil {
		return false, err
	}
	if !leases.available(id, k.cfg.Instance, k.now()) {
		holder := leases[id]
		logger.Warn("machine id leased by another instance",
			zap.String("holder", holder.Instance),
			zap.Time("expires", holder.expires()),
		)
		return false, nil
	}

	// heartbeat drains the same ack channels, so it pauses while claiming
	k.stopHeartbeat()
	defer k.startHeartbeat()

	if err := k.publish(ctx, k.lease(id)); err != nil {
		return false, fmt.Errorf("publish lease: %w", err)
	}

	// a concurrent claimant may have published first; topic order decides
	leases, err = k.scan(ctx)
	if err != nil {
		return false, fmt.Errorf("confirm lease: %w", err)
	}
	if holder, ok := leases[id]; !ok || holder.Instance != k.cfg.Instance {
		logger.Warn("machine id lost to a concurrent claim", zap.String("holder", holder.Instance))
		return false, nil
	}

	k.claimed[id] = struct{}{}
	logger.Info("machine id leased", zap.String("instance", k.cfg.Instance))
	return true, nil
}

// startHeartbeat renews the claimed ids until stopHeartbeat. Callers hold k.mu.
func (k *Kafka) startHeartbeat() {
	if k.done != nil || len(k.claimed) == 0 {
		return
	}
	ids := make([]uint16, 0, len(k.claimed))
	for id := range k.claimed {
		ids = append(ids, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.done = make(chan struct{})
	go k.heartbeat(ctx, ids, k.done)
}

// stopHeartbeat waits for the heartbeat to exit. Callers hold k.mu.
func (k *Kafka) stopHeartbeat() {
	if k.done == nil {
		return
	}
	k.cancel()
	<-k.done
	k.cancel, k.done = nil, nil
}

// scan replays the claims topic until it reaches the high watermark or the
// scan timeout ends the read.
func (k *Kafka) scan(ctx context.Context) (leaseTable, error) {
	ctx, cancel := context.WithTimeout(ctx, k.cfg.ScanTimeout)
	defer cancel()

	r := k.newReader()
	defer r.Close()

	leases := make(leaseTable)
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				return leases, nil
			}
			return nil, fmt.Errorf("read leases: %w", err)
		}

		rec, err := decodeLease(m.Value)
		if err != nil {
			k.logger.Warn("skipping malformed lease", zap.Int64("offset", m.Offset), zap.Error(err))
		} else {
			leases.apply(rec)
		}

		if m.HighWaterMark > 0 && m.Offset+1 >= m.HighWaterMark {
			return leases, nil
		}
	}
}

func (k *Kafka) lease(id uint16) leaseRecord {
	now := k.now()
	return leaseRecord{
		MachineID: id,
		Instance:  k.cfg.Instance,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(k.cfg.LeaseTTL).UnixMilli(),
	}
}

func (k *Kafka) release(id uint16) leaseRecord {
	return leaseRecord{
		MachineID: id,
		Instance:  k.cfg.Instance,
		IssuedAt:  k.now().UnixMilli(),
	}
}

func (k *Kafka) message(rec leaseRecord) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic:     k.cfg.Topic,
		Partition: 0,
		Key:       sarama.ByteEncoder(rec.key()),
		Value:     sarama.ByteEncoder(value),
		Metadata:  k.seq.Add(1),
	}, nil
}

// publish sends rec and waits for its broker ack. Acks of earlier renewals
// still in flight are skipped. It must not run concurrently with heartbeat.
func (k *Kafka) publish(ctx context.Context, rec leaseRecord) error {
	token, err := k.send(ctx, rec)
	if err != nil {
		return err
	}
	for {
		select {
		case msg := <-k.producer.Successes():
			if msg.Metadata == token {
				return nil
			}
		case perr := <-k.producer.Errors():
			if perr.Msg != nil && perr.Msg.Metadata == token {
				return perr.Err
			}
			k.logger.Warn("earlier lease renewal failed", zap.Error(perr.Err))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// send queues rec and returns the token its ack will carry.
func (k *Kafka) send(ctx context.Context, rec leaseRecord) (any, error) {
	msg, err := k.message(rec)
	if err != nil {
		return nil, err
	}
	select {
	case k.producer.Input() <- msg:
		return msg.Metadata, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(1 * time.Second):
		return nil, fmt.Errorf("timeout on input queue")
	}
}

// heartbeat renews ids every LeaseTTL/3. A failed renewal is retried with
// backoff capped at the renewal interval.
func (k *Kafka) heartbeat(ctx context.Context, ids []uint16, done chan struct{}) {
	defer close(done)
	logger := k.logger.With(zap.String("method", "heartbeat"))

	interval := k.cfg.LeaseTTL / 3
	tick, ticker := makeTickerChan(interval)
	if ticker != nil {
		defer ticker.Stop()
	}

	var backoff time.Duration
	var retry <-chan time.Time

	renew := func() {
		for _, id := range ids {
			if _, err := k.send(ctx, k.lease(id)); err != nil {
				logger.Warn("lease renewal not queued", zap.Uint16("machine_id", id), zap.Error(err))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			renew()
		case <-retry:
			retry = nil
			renew()
		case <-k.producer.Successes():
			backoff = 0
		case perr := <-k.producer.Errors():
			backoff = nextBackoff(backoff, interval)
			logger.Error("lease renewal failed", zap.Error(perr.Err), zap.Duration("retry_in", backoff))
			retry = time.After(backoff)
		}
	}
}

// Close stops renewals, publishes a release for every claimed id and closes
// the producer.
func (k *Kafka) Close(ctx context.Context) error {
	k.logger.Info("kafka lease registry shutting down...")

	k.mu.Lock()
	k.stopHeartbeat()
	var errs []error
	for id := range k.claimed {
		if err := k.publish(ctx, k.release(id)); err != nil {
			errs = append(errs, fmt.Errorf("release machine id %d: %w", id, err))
		}
		delete(k.claimed, id)
	}
	k.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if err := k.producer.Close(); err != nil {
			k.logger.Warn("error while closing Kafka producer", zap.Error(err))
		}
		close(done)
	}()

	select {
	case <-done:
		k.logger.Info("kafka lease registry closed")
	case <-ctx.Done():
		k.logger.Warn("kafka producer close timeout", zap.Error(ctx.Err()))
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
