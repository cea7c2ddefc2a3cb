package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dmitrijs2005/bugtracker/internal/client/client"
)

// startMonitor launches the connectivity probe unless one is running, the
// host reports no connectivity, or the engine is closed.
func (e *SyncEngine) startMonitor() {
	e.mu.Lock()
	if e.closed || e.hostOffline || e.monitorCancel != nil {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.monitorCancel = cancel
	e.monitorGen++
	gen := e.monitorGen
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			if e.monitorGen == gen {
				e.monitorCancel = nil
			}
			e.mu.Unlock()
		}()
		e.monitor(ctx)
	}()
}

// monitor probes the remote store with exponential backoff until a probe
// and a reconciliation both succeed, then brings the engine back online.
func (e *SyncEngine) monitor(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.OnlineCheckInterval
	b.MaxInterval = e.opts.MaxRetryInterval
	b.Reset()

	timer := time.NewTimer(b.NextBackOff())
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if e.Status().Online {
			return
		}

		err := e.client.TestConnection(ctx)
		if err == nil {
			err = e.reconcileFresh(ctx)
		}

		switch {
		case err == nil:
			e.mu.Lock()
			ok := !e.hostOffline
			e.status.Online = ok
			e.mu.Unlock()
			if ok {
				e.logger.Info(ctx, "remote store reachable again", "attempts", attempt)
				e.startFeed()
			}
			e.publish()
			return
		case errors.Is(err, client.ErrNotConfigured):
			e.mu.Lock()
			e.status.Configured = false
			e.mu.Unlock()
			e.publish()
			return
		case ctx.Err() != nil:
			return
		}

		next := b.NextBackOff()
		e.logger.Debug(ctx, "remote store still unavailable", "error", err, "retry_in", next)
		e.mu.Lock()
		e.status.LastError = err.Error()
		e.mu.Unlock()
		timer.Reset(next)
	}
}
