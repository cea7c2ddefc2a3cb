package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
)

const (
	DefaultHeartbeat = 25 * time.Second
	dialTimeout      = 10 * time.Second
)

var errJoinRejected = errors.New("channel join rejected")

type RealtimeConfig struct {
	// URL is the websocket endpoint; see RealtimeURL.
	URL    string
	APIKey string
	Table  string

	Heartbeat  time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// RealtimeURL derives the websocket endpoint from the REST base URL:
// https://host -> wss://host/realtime/v1/websocket.
func RealtimeURL(restURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(restURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + common.RealtimePath
	return u.String(), nil
}

// RealtimeSubscriber joins the table's realtime channel and fires onChange
// for every row change it is told about. Dropped connections are redialled
// with exponential backoff until Stop.
type RealtimeSubscriber struct {
	runner
	cfg    RealtimeConfig
	logger logging.Logger
	ref    atomic.Uint64
}

func NewRealtimeSubscriber(cfg RealtimeConfig, logger logging.Logger) *RealtimeSubscriber {
	if cfg.Table == "" {
		cfg.Table = "bugs"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &RealtimeSubscriber{cfg: cfg, logger: logger.With("module", "realtime")}
}

func (s *RealtimeSubscriber) Start(ctx context.Context, onChange func()) error {
	return s.start(ctx, func(ctx context.Context) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.cfg.MinBackoff
		b.MaxInterval = s.cfg.MaxBackoff

		for {
			joined, err := s.session(ctx, onChange)
			if ctx.Err() != nil {
				return
			}
			if joined {
				b.Reset()
			}
			wait := b.NextBackOff()
			s.logger.Warn(ctx, "realtime connection lost", "error", err, "retry_in", wait)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	})
}

func (s *RealtimeSubscriber) Stop() {
	s.stop()
}

func (s *RealtimeSubscriber) nextRef() *string {
	r := strconv.FormatUint(s.ref.Add(1), 10)
	return &r
}

func (s *RealtimeSubscriber) endpoint() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("apikey", s.cfg.APIKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session runs one connection until it fails or ctx ends. joined reports
// whether the channel join was acknowledged.
func (s *RealtimeSubscriber) session(ctx context.Context, onChange func()) (joined bool, err error) {
	endpoint, err := s.endpoint()
	if err != nil {
		return false, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{common.APIKeyHeader: []string{s.cfg.APIKey}},
	})
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	ctx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	topic := common.ChangeTopic(s.cfg.Table)
	joinPayload, _ := json.Marshal(common.JoinPayload{Config: common.JoinConfig{
		PostgresChanges: []common.ChangeFilter{{Event: "*", Schema: "public", Table: s.cfg.Table}},
	}})
	joinRef := s.nextRef()
	if err := wsjson.Write(ctx, conn, common.Frame{Topic: topic, Event: common.EventJoin, Payload: joinPayload, Ref: joinRef}); err != nil {
		return false, fmt.Errorf("join: %w", err)
	}

	go s.heartbeat(ctx, conn, cancelSession)

	for {
		var f common.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return joined, fmt.Errorf("read: %w", err)
		}

		switch {
		case f.Event == common.EventReply && f.Ref != nil && *f.Ref == *joinRef:
			var reply common.ReplyPayload
			_ = json.Unmarshal(f.Payload, &reply)
			if reply.Status != "ok" {
				return false, fmt.Errorf("%w: %s", errJoinRejected, reply.Status)
			}
			joined = true
			s.logger.Debug(ctx, "realtime channel joined", "topic", topic)
		case f.Topic == topic && (f.Event == common.EventError || f.Event == common.EventClose):
			return joined, fmt.Errorf("channel %s", f.Event)
		case f.Topic == topic && common.IsChangeEvent(f.Event):
			onChange()
		}
	}
}

func (s *RealtimeSubscriber) heartbeat(ctx context.Context, conn *websocket.Conn, fail context.CancelFunc) {
	t := time.NewTicker(s.cfg.Heartbeat)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f := common.Frame{Topic: common.PhoenixTopic, Event: common.EventHeartbeat, Payload: json.RawMessage(`{}`), Ref: s.nextRef()}
			if err := wsjson.Write(ctx, conn, f); err != nil {
				fail()
				return
			}
		}
	}
}
