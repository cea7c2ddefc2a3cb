package grpc

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"github.com/dmitrijs2005/bugtracker/internal/server/auth"
	"github.com/dmitrijs2005/bugtracker/internal/server/changes"
	"github.com/dmitrijs2005/bugtracker/internal/server/models"
)

const secret = "secret"

type harness struct {
	broker *changes.Broker
	conn   *grpc.ClientConn
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T) *harness {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	broker := changes.NewBroker()
	s := NewGRPCServer("bufnet", logging.Discard(), broker, secret)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	h := &harness{broker: broker, conn: conn, cancel: cancel, done: done}
	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		broker.Close()
	})
	return h
}

func key(t *testing.T) string {
	t.Helper()
	k, err := auth.IssueKey([]byte(secret), auth.RoleAnon, time.Hour)
	require.NoError(t, err)
	return k
}

func (h *harness) watch(ctx context.Context, md ...string) (grpc.ClientStream, error) {
	if len(md) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, md...)
	}
	stream, err := h.conn.NewStream(ctx, &common.WatchStreamDesc, common.WatchMethod)
	if err != nil {
		return nil, err
	}
	// io.EOF means the server already ended the stream; Header reports why
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if _, err := stream.Header(); err != nil {
		return nil, err
	}
	return stream, nil
}

func TestWatch_StreamsChanges(t *testing.T) {
	h := start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.watch(ctx, common.APIKeyHeader, key(t))
	require.NoError(t, err)

	// headers arrive after the subscription is registered
	require.Equal(t, 1, h.broker.Subscribers())
	at := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	h.broker.Publish(models.Change{Type: models.ChangeInsert, Table: "bugs", ID: 94091032, At: at})

	ev := &structpb.Struct{}
	require.NoError(t, stream.RecvMsg(ev))
	assert.Equal(t, map[string]any{
		"type":  "INSERT",
		"table": "bugs",
		"id":    "94091032",
		"at":    "2025-05-10T12:00:00Z",
	}, ev.AsMap())

	cancel()
	require.Eventually(t, func() bool { return h.broker.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_BearerMetadata(t *testing.T) {
	h := start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := h.watch(ctx, "authorization", "Bearer "+key(t))
	require.NoError(t, err)
}

func TestWatch_RequiresKey(t *testing.T) {
	h := start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := h.watch(ctx)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = h.watch(ctx, common.APIKeyHeader, "garbage")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, 0, h.broker.Subscribers())
}

func TestHealth_NoKeyNeeded(t *testing.T) {
	h := start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(h.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: common.ChangeFeedService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestServe_StopsOpenStreams(t *testing.T) {
	h := start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.watch(ctx, common.APIKeyHeader, key(t))
	require.NoError(t, err)

	h.cancel()

	err = stream.RecvMsg(&structpb.Struct{})
	assert.Equal(t, codes.Unavailable, status.Code(err))

	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	s := NewGRPCServer("127.0.0.1:99999", logging.Discard(), changes.NewBroker(), secret)
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s := NewGRPCServer("127.0.0.1:0", logging.Discard(), changes.NewBroker(), secret)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}
