package issuer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhukov-alex/flakeid/pkg/flake"
)

var (
	ErrNotStarted       = errors.New("issuer service is not started")
	ErrInvalidBatchSize = errors.New("invalid batch size")
)

// Generator is the part of *flake.Generator used by the service.
type Generator interface {
	NextID() (flake.ID, error)
	Time(id flake.ID) time.Time
}

//go:generate mockgen -destination=../mocks/mock_service.go -package=mocks github.com/zhukov-alex/flakeid/internal/issuer Service

// Service defines the interface for the id issuing service.
type Service interface {
	Start(ctx context.Context) error
	Next(ctx context.Context) (flake.ID, error)
	NextBatch(ctx context.Context, n int) ([]flake.ID, error)
	Decompose(id flake.ID) Decomposed
	Close(ctx context.Context) error
}

// Decomposed is an id split into its fields together with the absolute time
// it was issued at.
type Decomposed struct {
	flake.Parts
	IssuedAt time.Time
}

type request struct {
	count int
	resp  chan response
}

type response struct {
	ids []flake.ID
	err error
}

type ServiceImpl struct {
	cfg       Config
	gen       Generator
	inCh      chan request
	metrics   *metrics
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// New creates a new instance of the issuer service.
func New(logger *zap.Logger, cfg Config, gen Generator, registerMetrics bool) Service {
	return &ServiceImpl{
		cfg:     cfg,
		gen:     gen,
		inCh:    make(chan request, cfg.InChannelSize),
		metrics: initMetrics(registerMetrics),
		logger:  logger,
	}
}

// Start launches the issuing loop.
func (s *ServiceImpl) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("starting issuer service")

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.run() }()

	return nil
}

// Next returns a single id. When ctx ends before the id is issued the
// context error is returned, the generator state may still have advanced.
func (s *ServiceImpl) Next(ctx context.Context) (flake.ID, error) {
	ids, err := s.issue(ctx, 1)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// NextBatch returns n strictly increasing ids issued back to back.
func (s *ServiceImpl) NextBatch(ctx context.Context, n int) ([]flake.ID, error) {
	if n < 1 || n > s.cfg.MaxBatch {
		return nil, fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidBatchSize, n, s.cfg.MaxBatch)
	}
	return s.issue(ctx, n)
}

func (s *ServiceImpl) Decompose(id flake.ID) Decomposed {
	return Decomposed{
		Parts:    flake.Decompose(id),
		IssuedAt: s.gen.Time(id),
	}
}

func (s *ServiceImpl) issue(ctx context.Context, n int) ([]flake.ID, error) {
	if s.ctx == nil {
		return nil, ErrNotStarted
	}
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	req := request{
		count: n,
		resp:  make(chan response, 1),
	}
	select {
	case <-s.ctx.Done():
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	case s.inCh <- req:
		select {
		case r := <-req.resp:
			return r.ids, r.err
		case <-s.ctx.Done():
			return nil, context.Canceled
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *ServiceImpl) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("issuer service shutting down...")

		if s.cancel != nil {
			s.cancel()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("issuer service shutdown complete.")
		case <-ctx.Done():
			err = ctx.Err()
			s.logger.Warn("issuer service shutdown timeout", zap.Error(err))
		}
	})
	return err
}

func (s *ServiceImpl) run() {
	logger := s.logger.With(zap.String("method", "run"))

	for {
		select {
		case req := <-s.inCh:
			s.metrics.batchSize.Observe(float64(req.count))
			stopTimer := s.metrics.issueTimer()

			ids := make([]flake.ID, 0, req.count)
			var err error
			for i := 0; i < req.count; i++ {
				var id flake.ID
				id, err = s.gen.NextID()
				if err != nil {
					break
				}
				ids = append(ids, id)
			}
			stopTimer()

			if err != nil {
				logger.Error("generator.NextID error", zap.Int("requested", req.count), zap.Error(err))
				s.metrics.incError(err)
				req.resp <- response{err: err}
				continue
			}

			s.metrics.idsIssued.Add(float64(len(ids)))
			req.resp <- response{ids: ids}

		case <-s.ctx.Done():
			return
		}
	}
}
