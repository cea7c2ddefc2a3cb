package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCSubscriber consumes the server-streaming ChangeFeed.Watch call.
// Every received event fires onChange; its fields are only logged.
type GRPCSubscriber struct {
	runner
	addr     string
	apiKey   string
	dialOpts []grpc.DialOption
	logger   logging.Logger

	minBackoff, maxBackoff time.Duration
}

// NewGRPCSubscriber targets addr. A non-empty apiKey is sent as metadata on
// every stream. Without extra options the connection is plaintext and traced
// with otelgrpc.
func NewGRPCSubscriber(addr, apiKey string, logger logging.Logger, opts ...grpc.DialOption) *GRPCSubscriber {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	opts = append(opts, grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
	return &GRPCSubscriber{
		addr:       addr,
		apiKey:     apiKey,
		dialOpts:   opts,
		logger:     logger.With("module", "grpc_feed"),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

func (s *GRPCSubscriber) Start(ctx context.Context, onChange func()) error {
	conn, err := grpc.NewClient(s.addr, s.dialOpts...)
	if err != nil {
		return fmt.Errorf("grpc client: %w", err)
	}

	err = s.start(ctx, func(ctx context.Context) {
		defer conn.Close()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.minBackoff
		b.MaxInterval = s.maxBackoff

		for {
			subscribed, err := s.watch(ctx, conn, onChange)
			if ctx.Err() != nil {
				return
			}
			if subscribed {
				b.Reset()
			}
			wait := b.NextBackOff()
			s.logger.Warn(ctx, "change stream lost", "error", err, "retry_in", wait)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	})
	if err != nil {
		_ = conn.Close()
	}
	return err
}

func (s *GRPCSubscriber) Stop() {
	s.stop()
}

func (s *GRPCSubscriber) watch(ctx context.Context, conn *grpc.ClientConn, onChange func()) (bool, error) {
	if s.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, common.APIKeyHeader, s.apiKey)
	}
	stream, err := conn.NewStream(ctx, &common.WatchStreamDesc, common.WatchMethod)
	if err != nil {
		return false, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return false, err
	}
	if err := stream.CloseSend(); err != nil {
		return false, err
	}
	// The server sends headers once the subscription is registered.
	if _, err := stream.Header(); err != nil {
		return false, err
	}

	for {
		ev := &structpb.Struct{}
		if err := stream.RecvMsg(ev); err != nil {
			return true, err
		}
		s.logger.Debug(ctx, "change event", "type", ev.GetFields()["type"].GetStringValue())
		onChange()
	}
}
