package common

import "google.golang.org/grpc"

// The change feed has no generated stubs: the request is
// google.protobuf.Empty and every event is a google.protobuf.Struct with
// "type", "table" and "at" fields.
const (
	ChangeFeedService = "bugtracker.v1.ChangeFeed"
	WatchMethod       = "/" + ChangeFeedService + "/Watch"
)

// WatchStreamDesc describes the server-streaming Watch call.
var WatchStreamDesc = grpc.StreamDesc{
	StreamName:    "Watch",
	ServerStreams: true,
}
