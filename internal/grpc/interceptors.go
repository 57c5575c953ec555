package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// logCall records one finished RPC. Health checks are frequent, so calls
// are logged at debug level.
func (s *Server) logCall(kind, method string, start time.Time, err error) {
	s.logger.Debug("grpc call",
		"kind", kind,
		"method", method,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
}

func (s *Server) unaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logCall("unary", info.FullMethod, start, err)
	return resp, err
}

func (s *Server) streamLogger(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	s.logCall("stream", info.FullMethod, start, err)
	return err
}
