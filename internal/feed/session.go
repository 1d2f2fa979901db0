package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Session drives one feed over one websocket connection. Messages are
// processed strictly in arrival order on the session's own goroutine;
// protocol correctness depends on it.
type Session struct {
	feed MarketFeed
	log  zerolog.Logger

	HandshakeTimeout time.Duration
	// MaxMessages stops the session after that many messages; <= 0 runs
	// until cancellation or a fatal status.
	MaxMessages int
}

func NewSession(f MarketFeed, logger zerolog.Logger) *Session {
	return &Session{
		feed:             f,
		log:              logger.With().Str("feed", f.Book().Name()).Logger(),
		HandshakeTimeout: 15 * time.Second,
	}
}

// wsTransport adapts a websocket connection to the Transport write side.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(msg []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, msg)
}

// Run dials the feed's endpoint, subscribes, and consumes messages until
// the context is cancelled, the connection drops, or the protocol reports a
// fatal status. On a fatal status it attempts a best-effort unsubscribe
// before closing; a desynced feed ends its own session without touching
// anything else.
func (s *Session) Run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.feed.URL(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.feed.URL(), err)
	}
	s.log.Info().Str("url", s.feed.URL()).Msg("connected")

	// closing the connection is the only way to unblock ReadMessage on
	// cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	t := &wsTransport{conn: conn}
	if err := s.feed.Subscribe(ctx, t); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	count := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		s.log.Debug().Int("count", count+1).Msg("<<<")

		if status := s.feed.ProcessMessage(raw); status != StatusOK {
			s.teardown(ctx, conn, t)
			return fmt.Errorf("feed terminated with status %d: %w", status, errSessionFatal)
		}

		count++
		if s.MaxMessages > 0 && count >= s.MaxMessages {
			s.log.Info().Int("count", count).Msg("message cap reached")
			s.teardown(ctx, conn, t)
			return nil
		}
	}
}

var errSessionFatal = errors.New("feed: session terminated by protocol")

// IsFatal reports whether a session error came from a fatal protocol
// status rather than transport failure or cancellation.
func IsFatal(err error) bool {
	return errors.Is(err, errSessionFatal)
}

func (s *Session) teardown(ctx context.Context, conn *websocket.Conn, t Transport) {
	if err := s.feed.Unsubscribe(ctx, t); err != nil {
		s.log.Warn().Err(err).Msg("unsubscribe failed during teardown")
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()
}
