package server

import (
	"context"

	"github.com/zhukov-alex/flakeid/internal/issuer"
)

type Server interface {
	Serve(ctx context.Context, svc issuer.Service) error
	Close(ctx context.Context) error
}
