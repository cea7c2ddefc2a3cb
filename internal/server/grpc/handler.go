package grpc

import (
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/server/models"
)

// ChangeFeedServer is the handler type of the hand-written service
// descriptor; there are no generated stubs.
type ChangeFeedServer interface {
	Watch(stream grpc.ServerStream) error
}

var changeFeedDesc = grpc.ServiceDesc{
	ServiceName: common.ChangeFeedService,
	HandlerType: (*ChangeFeedServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    common.WatchStreamDesc.StreamName,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			return srv.(ChangeFeedServer).Watch(stream)
		},
	}},
}

// Watch reads the empty request, subscribes, sends headers to signal the
// subscription is live and then streams one event per change.
func (s *GRPCServer) Watch(stream grpc.ServerStream) error {
	ctx := stream.Context()
	if err := stream.RecvMsg(&emptypb.Empty{}); err != nil {
		return err
	}

	changes, cancel := s.feed.Subscribe()
	defer cancel()

	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}
	s.logger.Info(ctx, "change feed subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return status.Error(codes.Unavailable, "server shutting down")
		case c, ok := <-changes:
			if !ok {
				return status.Error(codes.Unavailable, "change feed closed")
			}
			ev, err := changeEvent(c)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(ev); err != nil {
				return err
			}
		}
	}
}

// changeEvent renders c; the id is a string because structpb numbers are
// doubles.
func changeEvent(c models.Change) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"type":  string(c.Type),
		"table": c.Table,
		"id":    strconv.FormatInt(c.ID, 10),
		"at":    c.At.UTC().Format(time.RFC3339Nano),
	})
}
