package feed

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func startChangeFeed(t *testing.T, watch func(stream grpc.ServerStream) error) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: common.ChangeFeedService,
		HandlerType: (*interface{})(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Watch",
			ServerStreams: true,
			Handler: func(_ any, stream grpc.ServerStream) error {
				if err := stream.RecvMsg(&emptypb.Empty{}); err != nil {
					return err
				}
				if err := stream.SendHeader(metadata.MD{}); err != nil {
					return err
				}
				return watch(stream)
			},
		}},
	}, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func bufDialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func event(t *testing.T, typ string) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(map[string]any{"type": typ, "table": "bugs"})
	require.NoError(t, err)
	return s
}

func TestGRPCSubscriber_FiresPerEvent(t *testing.T) {
	lis := startChangeFeed(t, func(stream grpc.ServerStream) error {
		for _, typ := range []string{"INSERT", "UPDATE", "DELETE"} {
			if err := stream.SendMsg(event(t, typ)); err != nil {
				return err
			}
		}
		<-stream.Context().Done()
		return nil
	})

	s := NewGRPCSubscriber("passthrough:///bufnet", "", logging.Discard(),
		grpc.WithTransportCredentials(insecure.NewCredentials()), bufDialer(lis))
	var n atomic.Int32
	require.NoError(t, s.Start(context.Background(), func() { n.Add(1) }))
	defer s.Stop()

	require.Eventually(t, func() bool { return n.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestGRPCSubscriber_ResubscribesAfterStreamEnds(t *testing.T) {
	var calls atomic.Int32
	lis := startChangeFeed(t, func(stream grpc.ServerStream) error {
		if calls.Add(1) == 1 {
			return nil
		}
		if err := stream.SendMsg(event(t, "INSERT")); err != nil {
			return err
		}
		<-stream.Context().Done()
		return nil
	})

	s := NewGRPCSubscriber("passthrough:///bufnet", "", logging.Discard(),
		grpc.WithTransportCredentials(insecure.NewCredentials()), bufDialer(lis))
	s.minBackoff = time.Millisecond
	s.maxBackoff = 5 * time.Millisecond

	fired := make(chan struct{}, 1)
	require.NoError(t, s.Start(context.Background(), func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}))
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("no event after resubscribe")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestGRPCSubscriber_StopIdempotent(t *testing.T) {
	lis := startChangeFeed(t, func(stream grpc.ServerStream) error {
		<-stream.Context().Done()
		return nil
	})

	s := NewGRPCSubscriber("passthrough:///bufnet", "", logging.Discard(),
		grpc.WithTransportCredentials(insecure.NewCredentials()), bufDialer(lis))
	require.NoError(t, s.Start(context.Background(), func() {}))

	s.Stop()
	s.Stop()
	assert.False(t, s.isRunning())

	require.NoError(t, s.Start(context.Background(), func() {}))
	s.Stop()
}
