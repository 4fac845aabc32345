package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhukov-alex/flakeid/internal/issuer"
	"github.com/zhukov-alex/flakeid/pkg/flake"
)

type TCPServer struct {
	cfg       *TCPConfig
	metrics   *metrics
	listener  net.Listener
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *zap.Logger
}

func NewTCPServer(logger *zap.Logger, cfg *TCPConfig, registerMetrics bool) *TCPServer {
	return &TCPServer{
		cfg:     cfg,
		metrics: initMetrics(registerMetrics),
		logger:  logger,
	}
}

func (s *TCPServer) Serve(ctx context.Context, svc issuer.Service) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return err
	}
	s.listener = listener

	sem := make(chan struct{}, s.cfg.MaxConnections)
	s.logger.Info("TCP server started", zap.String("addr", s.cfg.BindAddr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return nil // graceful shutdown
			}

			s.logger.Error("tcp accept failed", zap.Error(err))
			s.metrics.incTcpError()
			continue
		}

		select {
		case sem <- struct{}{}:
			s.wg.Add(1)
			go func(c net.Conn) {
				defer func() {
					<-sem
					s.wg.Done()
				}()
				s.handleTCPConn(c, svc)
			}(conn)
		default:
			s.logger.Warn("too many connections - rejecting client")
			conn.Close()
		}
	}
}

func (s *TCPServer) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("TCPServer shutting down...")

		if s.cancel != nil {
			s.cancel()
		}
		if s.listener != nil {
			err = s.listener.Close()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("TCPServer shutdown complete")
		case <-ctx.Done():
			err = ctx.Err()
			s.logger.Warn("TCPServer shutdown timeout", zap.Error(err))
		}
	})
	return err
}

func (s *TCPServer) handleTCPConn(conn net.Conn, svc issuer.Service) {
	defer conn.Close()

	logger := s.logger.With(zap.String("method", "handleTCPConn"))

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("context canceled - closing connection")
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		payload, err := readFrame(conn, MaxRequestSize)
		if err != nil {
			switch {
			case err == io.EOF:
				return
			case os.IsTimeout(err):
				logger.Warn("timeout reading request")
			default:
				logger.Error("read request error", zap.Error(err))
			}
			s.metrics.incTcpError()
			return
		}

		startTime := time.Now()
		resp := s.dispatch(payload, svc)
		if resp[0] != StatusOK {
			logger.Warn("request failed", zap.Uint8("op", payload[0]), zap.Uint8("status", resp[0]))
			s.metrics.incTcpError()
		}

		_ = conn.SetWriteDeadline(time.Now().Add(1 * time.Second))
		if err := writeFrame(conn, resp); err != nil {
			logger.Error("failed to write response", zap.Error(err))
			s.metrics.incTcpError()
			return
		}

		s.metrics.tcpLatency.Observe(time.Since(startTime).Seconds())
	}
}

func (s *TCPServer) dispatch(payload []byte, svc issuer.Service) []byte {
	op, body := payload[0], payload[1:]
	switch {
	case op == OpNext && len(body) == 0:
		id, err := svc.Next(s.ctx)
		if err != nil {
			return errorResponse(statusFor(err), err)
		}
		resp := make([]byte, 9)
		resp[0] = StatusOK
		binary.LittleEndian.PutUint64(resp[1:], uint64(id))
		return resp

	case op == OpBatch && len(body) == 2:
		ids, err := svc.NextBatch(s.ctx, int(binary.LittleEndian.Uint16(body)))
		if err != nil {
			return errorResponse(statusFor(err), err)
		}
		return encodeIDs(ids)

	case op == OpDecompose && len(body) == 8:
		return encodeDecomposed(svc.Decompose(flake.ID(binary.LittleEndian.Uint64(body))))

	default:
		return errorResponse(StatusBadRequest, fmt.Errorf("malformed request: op 0x%02x with %d byte body", op, len(body)))
	}
}
