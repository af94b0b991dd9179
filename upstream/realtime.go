package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/passage-ai/passage/config"
)

const eventBuffer = 32

// RealtimeDialer creates WebSocket sessions to the configured realtime
// service.
type RealtimeDialer struct {
	url    string
	apiKey string
	logger *slog.Logger
}

// NewRealtimeDialer creates a dialer from upstream configuration.
func NewRealtimeDialer(cfg config.UpstreamConfig, logger *slog.Logger) *RealtimeDialer {
	return &RealtimeDialer{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		logger: logger.With("component", "upstream"),
	}
}

// NewSession returns an unconnected session for the principal.
func (d *RealtimeDialer) NewSession(principalID string) Session {
	header := http.Header{}
	if d.apiKey != "" {
		header.Set("Authorization", "Bearer "+d.apiKey)
	}
	header.Set("X-Principal-Id", principalID)

	return &realtimeSession{
		url:    d.url,
		header: header,
		logger: d.logger.With("principal_id", principalID),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// realtimeSession is a live WebSocket connection to the realtime service.
type realtimeSession struct {
	url    string
	header http.Header
	logger *slog.Logger
	events chan Event
	done   chan struct{}

	mu   sync.Mutex // guards conn writes
	conn *websocket.Conn

	closeOnce sync.Once
}

// Connect dials the realtime service and starts the read pump.
func (s *realtimeSession) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readPump(conn)
	return nil
}

// readPump relays upstream frames onto the event channel until the
// connection dies, then emits the terminal Disconnected event.
func (s *realtimeSession) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				s.emit(Event{Kind: EventError, Err: err})
			}
			s.emit(Event{Kind: EventDisconnected, Err: err})
			return
		}
		s.emit(Event{Kind: EventMessage, Data: data})
	}
}

func (s *realtimeSession) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Send writes one message to the realtime service.
func (s *realtimeSession) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("upstream session not connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect closes the session. Idempotent.
func (s *realtimeSession) Disconnect() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		}
	})
}

// Events returns the session event channel.
func (s *realtimeSession) Events() <-chan Event {
	return s.events
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, websocket.ErrCloseSent)
}
