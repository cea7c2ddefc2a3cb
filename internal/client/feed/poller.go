package feed

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/logging"
)

const (
	MinPollInterval     = 2 * time.Second
	MaxPollInterval     = 30 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// Poller fires onChange on a fixed interval, clamped to
// [MinPollInterval, MaxPollInterval].
type Poller struct {
	runner
	logger logging.Logger

	min, max time.Duration

	ivMu     sync.Mutex
	interval time.Duration
	reset    chan struct{}
}

func NewPoller(interval time.Duration, logger logging.Logger) *Poller {
	return &Poller{
		logger:   logger.With("module", "poller"),
		min:      MinPollInterval,
		max:      MaxPollInterval,
		interval: interval,
		reset:    make(chan struct{}, 1),
	}
}

// Interval returns the effective, clamped interval.
func (p *Poller) Interval() time.Duration {
	p.ivMu.Lock()
	defer p.ivMu.Unlock()
	return clamp(p.interval, p.min, p.max)
}

// SetInterval changes the interval; a running poller picks it up on its next
// wakeup.
func (p *Poller) SetInterval(d time.Duration) {
	p.ivMu.Lock()
	p.interval = d
	p.ivMu.Unlock()

	select {
	case p.reset <- struct{}{}:
	default:
	}
}

func (p *Poller) Start(ctx context.Context, onChange func()) error {
	return p.start(ctx, func(ctx context.Context) {
		iv := p.Interval()
		p.logger.Debug(ctx, "polling started", "interval", iv)

		ticker := time.NewTicker(iv)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug(context.Background(), "polling stopped")
				return
			case <-p.reset:
				if next := p.Interval(); next != iv {
					iv = next
					ticker.Reset(iv)
					p.logger.Info(ctx, "poll interval changed", "interval", iv)
				}
			case <-ticker.C:
				onChange()
			}
		}
	})
}

func (p *Poller) Stop() {
	p.stop()
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d <= 0 {
		d = DefaultPollInterval
	}
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
