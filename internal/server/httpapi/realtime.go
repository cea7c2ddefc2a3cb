package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"github.com/dmitrijs2005/bugtracker/internal/server/models"
)

const writeTimeout = 5 * time.Second

// Hub serves realtime websocket sessions. A session that joined the table
// topic receives a postgres_changes frame for every published change.
type Hub struct {
	feed        Feed
	topic       string
	table       string
	idleTimeout time.Duration
	logger      logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	clients atomic.Int64
	wg      sync.WaitGroup
}

func NewHub(feed Feed, table string, idleTimeout time.Duration, logger logging.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		feed:        feed,
		topic:       common.ChangeTopic(table),
		table:       table,
		idleTimeout: idleTimeout,
		logger:      logger.With("module", "realtime"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Clients reports the number of open sessions.
func (h *Hub) Clients() int { return int(h.clients.Load()) }

// Close ends every session and waits for them to finish.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()
	n := h.clients.Add(1)
	defer h.clients.Add(-1)
	h.logger.Info(r.Context(), "realtime client connected", "clients", n, "remote", r.RemoteAddr)

	err = h.session(r.Context(), conn)
	switch {
	case h.ctx.Err() != nil:
	case err != nil && websocket.CloseStatus(err) == -1:
		h.logger.Debug(r.Context(), "realtime session ended", "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "session ended")
	default:
		_ = conn.CloseNow()
	}
	h.logger.Info(r.Context(), "realtime client disconnected")
}

type session struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	joined bool
}

func (s *session) setJoined(v bool) {
	s.mu.Lock()
	s.joined = v
	s.mu.Unlock()
}

func (s *session) isJoined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

func (s *session) write(ctx context.Context, f common.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, f)
}

func (h *Hub) session(parent context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(h.ctx, func() {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stop()

	changes, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	s := &session{conn: conn}

	broadcastErr := make(chan error, 1)
	go func() {
		broadcastErr <- h.broadcast(ctx, s, changes)
		cancel()
	}()

	err := h.readLoop(ctx, s)
	cancel()
	if bErr := <-broadcastErr; err == nil {
		err = bErr
	}
	return err
}

func (h *Hub) broadcast(ctx context.Context, s *session, changes <-chan models.Change) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return errors.New("change feed closed")
			}
			if !s.isJoined() {
				continue
			}
			payload, err := json.Marshal(common.ChangePayload{Data: common.ChangeData{
				Schema:          "public",
				Table:           c.Table,
				Type:            string(c.Type),
				CommitTimestamp: c.At.UTC().Format(time.RFC3339Nano),
			}})
			if err != nil {
				return err
			}
			if err := s.write(ctx, common.Frame{Topic: h.topic, Event: common.EventChanges, Payload: payload}); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, s *session) error {
	for {
		rctx, cancel := context.WithTimeout(ctx, h.idleTimeout)
		var f common.Frame
		err := wsjson.Read(rctx, s.conn, &f)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch {
		case f.Topic == common.PhoenixTopic && f.Event == common.EventHeartbeat:
			err = s.write(ctx, reply(f, "ok", nil))
		case f.Event == common.EventJoin:
			err = h.join(ctx, s, f)
		case f.Event == common.EventLeave && f.Topic == h.topic:
			s.setJoined(false)
			err = s.write(ctx, reply(f, "ok", nil))
		}
		if err != nil {
			return err
		}
	}
}

func (h *Hub) join(ctx context.Context, s *session, f common.Frame) error {
	if f.Topic != h.topic {
		resp, _ := json.Marshal(map[string]string{"reason": "unknown topic " + f.Topic})
		return s.write(ctx, reply(f, "error", resp))
	}

	var jp common.JoinPayload
	_ = json.Unmarshal(f.Payload, &jp)
	filters := jp.Config.PostgresChanges
	if len(filters) == 0 {
		filters = []common.ChangeFilter{{Event: "*", Schema: "public", Table: h.table}}
	}
	resp, _ := json.Marshal(map[string]any{"postgres_changes": filters})

	s.setJoined(true)
	h.logger.Debug(ctx, "realtime channel joined", "topic", f.Topic)
	return s.write(ctx, reply(f, "ok", resp))
}

func reply(to common.Frame, status string, response json.RawMessage) common.Frame {
	payload, _ := json.Marshal(common.ReplyPayload{Status: status, Response: response})
	return common.Frame{Topic: to.Topic, Event: common.EventReply, Payload: payload, Ref: to.Ref}
}
