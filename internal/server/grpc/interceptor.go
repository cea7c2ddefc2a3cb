package grpc

import (
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/server/auth"
)

const healthPrefix = "/grpc.health.v1.Health/"

// apiKeyInterceptor requires a valid key in the apikey or authorization
// metadata on every stream except health checks.
func (s *GRPCServer) apiKeyInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if strings.HasPrefix(info.FullMethod, healthPrefix) {
		return handler(srv, ss)
	}

	var key string
	if md, ok := metadata.FromIncomingContext(ss.Context()); ok {
		if v := md.Get(common.APIKeyHeader); len(v) > 0 {
			key = v[0]
		} else if v := md.Get("authorization"); len(v) > 0 {
			key = strings.TrimPrefix(v[0], "Bearer ")
		}
	}
	if key == "" {
		return status.Error(codes.Unauthenticated, "missing api key")
	}
	if _, err := auth.ValidateKey(key, s.jwtSecret); err != nil {
		s.logger.Debug(ss.Context(), "stream rejected", "method", info.FullMethod, "error", err)
		return status.Error(codes.Unauthenticated, err.Error())
	}
	return handler(srv, ss)
}
