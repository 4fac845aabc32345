package server

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/zhukov-alex/flakeid/internal/issuer"
	"github.com/zhukov-alex/flakeid/internal/mocks"
	"github.com/zhukov-alex/flakeid/pkg/flake"
)

func setupGRPC(t *testing.T, svc issuer.Service) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := NewGRPCServer(zaptest.NewLogger(t), &GRPCConfig{
		BindAddr:    "bufnet",
		ReadTimeout: 2 * time.Second,
	}, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.serveListener(ctx, lis, svc); err != nil {
			t.Logf("server stopped: %v", err)
		}
	}()

	client, err := DialGRPC("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		cancel()
	})
	return client
}

func TestGRPCServer_NextID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockService(ctrl)
	mockSvc.EXPECT().Next(gomock.Any()).Return(flake.ID(1<<62+5), nil)

	client := setupGRPC(t, mockSvc)

	id, err := client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, flake.ID(1<<62+5), id)
}

func TestGRPCServer_NextIDs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	expected := []flake.ID{1<<62 + 1, 1<<62 + 2, 1<<62 + 3}
	mockSvc := mocks.NewMockService(ctrl)
	mockSvc.EXPECT().NextBatch(gomock.Any(), 3).Return(expected, nil)

	client := setupGRPC(t, mockSvc)

	ids, err := client.NextBatch(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, expected, ids)
}

func TestGRPCServer_Decompose(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	expected := issuer.Decomposed{
		Parts: flake.Parts{
			ID:        1<<24 | 3<<16 | 42,
			Time:      1,
			Sequence:  3,
			MachineID: 42,
		},
		IssuedAt: time.Date(2024, 5, 1, 12, 0, 0, 10_000_000, time.UTC),
	}
	mockSvc := mocks.NewMockService(ctrl)
	mockSvc.EXPECT().Decompose(flake.ID(expected.ID)).Return(expected)

	client := setupGRPC(t, mockSvc)

	d, err := client.Decompose(context.Background(), flake.ID(expected.ID))
	require.NoError(t, err)
	assert.Equal(t, expected.Parts, d.Parts)
	assert.True(t, expected.IssuedAt.Equal(d.IssuedAt))
}

func TestGRPCServer_ErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"over time limit", flake.ErrOverTimeLimit, codes.ResourceExhausted},
		{"invalid batch", fmt.Errorf("%w: 0", issuer.ErrInvalidBatchSize), codes.InvalidArgument},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"poisoned", flake.ErrPoisoned, codes.Internal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockSvc := mocks.NewMockService(ctrl)
			mockSvc.EXPECT().NextBatch(gomock.Any(), 5).Return(nil, tc.err)

			client := setupGRPC(t, mockSvc)

			_, err := client.NextBatch(context.Background(), 5)
			require.Error(t, err)
			assert.Equal(t, tc.code, status.Code(err))
		})
	}
}

func TestGRPCClient_RejectsEmptyBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := setupGRPC(t, mocks.NewMockService(ctrl))

	_, err := client.NextBatch(context.Background(), 0)
	assert.ErrorIs(t, err, issuer.ErrInvalidBatchSize)
}
