package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/zhukov-alex/flakeid/internal/issuer"
	"github.com/zhukov-alex/flakeid/pkg/flake"
	"github.com/zhukov-alex/flakeid/proto/idpb"
)

type GRPCServer struct {
	cfg     *GRPCConfig
	metrics *metrics
	logger  *zap.Logger
	server  *grpc.Server
}

func NewGRPCServer(logger *zap.Logger, cfg *GRPCConfig, registerMetrics bool) *GRPCServer {
	m := initMetrics(registerMetrics)
	server := grpc.NewServer(
		grpc.ConnectionTimeout(cfg.ReadTimeout),
		grpc.MaxRecvMsgSize(1024),
		grpc.UnaryInterceptor(unaryLoggingInterceptor(logger, m)),
	)
	return &GRPCServer{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		server:  server,
	}
}

func (s *GRPCServer) Serve(ctx context.Context, svc issuer.Service) error {
	lis, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return err
	}
	s.logger.Info("gRPC server started", zap.String("addr", s.cfg.BindAddr))
	return s.serveListener(ctx, lis, svc)
}

func (s *GRPCServer) serveListener(ctx context.Context, lis net.Listener, svc issuer.Service) error {
	idpb.RegisterIDServiceServer(s.server, &idService{svc: svc})

	go func() {
		<-ctx.Done()
		s.server.GracefulStop()
	}()

	err := s.server.Serve(lis)
	if err == grpc.ErrServerStopped {
		return nil
	}
	return err
}

func (s *GRPCServer) Close(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("gRPC graceful stop timeout, forcing stop", zap.Error(ctx.Err()))
		s.server.Stop()
		return ctx.Err()
	}
}

func unaryLoggingInterceptor(logger *zap.Logger, m *metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			m.grpcErrors.WithLabelValues(info.FullMethod).Inc()
			logger.Warn("grpc call failed",
				zap.String("method", info.FullMethod),
				zap.Stringer("code", status.Code(err)),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return resp, err
		}
		logger.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, nil
	}
}

type idService struct {
	svc issuer.Service
}

func (i *idService) NextID(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	id, err := i.svc.Next(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.UInt64(uint64(id)), nil
}

func (i *idService) NextIDs(ctx context.Context, req *wrapperspb.UInt32Value) (*structpb.ListValue, error) {
	ids, err := i.svc.NextBatch(ctx, int(req.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}
	values := make([]*structpb.Value, len(ids))
	for n, id := range ids {
		values[n] = structpb.NewStringValue(id.String())
	}
	return &structpb.ListValue{Values: values}, nil
}

func (i *idService) Decompose(_ context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	d := i.svc.Decompose(flake.ID(req.GetValue()))
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":         structpb.NewStringValue(strconv.FormatUint(d.ID, 10)),
		"msb":        structpb.NewNumberValue(float64(d.MSB)),
		"time":       structpb.NewNumberValue(float64(d.Time)),
		"sequence":   structpb.NewNumberValue(float64(d.Sequence)),
		"machine_id": structpb.NewNumberValue(float64(d.MachineID)),
		"issued_at":  structpb.NewStringValue(d.IssuedAt.Format(time.RFC3339Nano)),
	}}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, issuer.ErrInvalidBatchSize):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, flake.ErrOverTimeLimit):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
