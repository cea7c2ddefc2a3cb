// Package feed tells the sync engine that the remote working set may have
// changed. Listeners never say what changed; the engine always answers with
// a full reconciliation.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrAlreadyRunning = errors.New("listener already running")

// Listener is implemented by every change feed.
//
// Start launches the listener in the background and returns at once.
// onChange must not block. Stop cancels the listener and waits for it to
// exit; it is idempotent and a stopped listener may be started again.
type Listener interface {
	Start(ctx context.Context, onChange func()) error
	Stop()
}

// Mode selects a Listener implementation.
type Mode string

const (
	ModePoll     Mode = "poll"
	ModeRealtime Mode = "realtime"
	ModeGRPC     Mode = "grpc"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModePoll:
		return ModePoll, nil
	case ModeRealtime, ModeGRPC:
		return m, nil
	default:
		return "", fmt.Errorf("unknown feed mode %q", s)
	}
}

// runner owns the goroutine lifecycle shared by all listeners.
type runner struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func (r *runner) start(ctx context.Context, loop func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.running = true
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		loop(ctx)
	}()
	return nil
}

func (r *runner) stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
}

func (r *runner) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
