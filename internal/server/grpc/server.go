// Package grpc serves the ChangeFeed stream and the standard health service.
package grpc

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"github.com/dmitrijs2005/bugtracker/internal/server/models"
)

// Feed hands out change subscriptions.
type Feed interface {
	Subscribe() (<-chan models.Change, func())
}

type GRPCServer struct {
	address   string
	feed      Feed
	logger    logging.Logger
	jwtSecret []byte

	health *health.Server
	done   chan struct{}
}

func NewGRPCServer(addr string, l logging.Logger, feed Feed, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   addr,
		feed:      feed,
		logger:    l.With("module", "grpc_server"),
		jwtSecret: []byte(secretKey),
		health:    health.NewServer(),
		done:      make(chan struct{}),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainStreamInterceptor(s.apiKeyInterceptor),
	)
	srv.RegisterService(&changeFeedDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(common.ChangeFeedService, healthpb.HealthCheckResponse_SERVING)
	return srv
}

// Run listens on the configured address until ctx ends.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis. When ctx ends open Watch streams are
// ended with Unavailable and the server stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		close(s.done)
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())
	if err := srv.Serve(lis); err != nil {
		return err
	}
	<-stopped
	return nil
}
