package shutdown

import (
	"context"
	"net/http"
)

type funcComponent struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcComponent) Name() string                       { return c.name }
func (c funcComponent) Shutdown(ctx context.Context) error { return c.fn(ctx) }

// NewFuncComponent registers fn under name.
func NewFuncComponent(name string, fn func(ctx context.Context) error) Component {
	return funcComponent{name: name, fn: fn}
}

// NewHTTPServerComponent closes the listeners of srv and waits for active
// requests. Hijacked connections such as websockets are not tracked.
func NewHTTPServerComponent(name string, srv *http.Server) Component {
	return NewFuncComponent(name, srv.Shutdown)
}

// GracefulStopper is satisfied by *grpc.Server and the fleet gRPC server.
type GracefulStopper interface {
	GracefulStop()
}

// NewGRPCServerComponent waits for open RPCs to finish, up to the deadline.
func NewGRPCServerComponent(name string, srv GracefulStopper) Component {
	return NewFuncComponent(name, untilDone(srv.GracefulStop))
}

// Stopper is a background loop that drains before Stop returns.
type Stopper interface {
	Stop()
}

// NewWorkerComponent stops a loop such as the poller and waits for its
// in-flight work, up to the deadline.
func NewWorkerComponent(name string, w Stopper) Component {
	return NewFuncComponent(name, untilDone(w.Stop))
}

// untilDone runs a blocking stop call and gives up waiting when ctx ends.
// The call itself keeps running in the background.
func untilDone(stop func()) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			defer close(done)
			stop()
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
