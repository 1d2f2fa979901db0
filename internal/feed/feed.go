// Package feed reconstructs per-exchange order books from streaming
// level-2 data. Each exchange speaks its own reconciliation protocol; both
// implementations share the MarketFeed contract so a Session can drive
// either one.
package feed

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/b63/bookwatch/internal/orderbook"
)

// ProcessMessage status codes. Zero means keep reading; anything else means
// the local book can no longer be trusted and the session must unsubscribe
// and tear the connection down.
const (
	StatusOK    = 0
	StatusFatal = 1000
)

// Transport is the outbound half of a streaming connection. The read side
// stays with the session loop so message ordering is owned in one place.
type Transport interface {
	Send(msg []byte) error
}

// Observer is invoked with the owning book after every live (non-bootstrap)
// mutation.
type Observer func(*orderbook.Book)

// MarketFeed is one exchange session's protocol state machine.
type MarketFeed interface {
	// URL is the streaming endpoint to dial for this feed.
	URL() string
	// Subscribe establishes the book data flow. Depending on the
	// protocol this is a signed control frame, a synchronous snapshot
	// bootstrap, or both.
	Subscribe(ctx context.Context, t Transport) error
	// Unsubscribe sends the protocol's unsubscribe frame, if it has one.
	Unsubscribe(ctx context.Context, t Transport) error
	// ProcessMessage consumes one inbound message in arrival order and
	// returns a status code.
	ProcessMessage(raw []byte) int
	AttachUpdateListener(Observer)
	Book() *orderbook.Book
}

// notifier fans book-changed events out to observers in registration order.
// A failing observer is isolated: its panic is logged and the remaining
// observers still run.
type notifier struct {
	log       zerolog.Logger
	observers []Observer
}

func (n *notifier) attach(cb Observer) {
	n.observers = append(n.observers, cb)
}

func (n *notifier) notify(book *orderbook.Book) {
	for i, cb := range n.observers {
		n.invoke(i, cb, book)
	}
}

func (n *notifier) invoke(i int, cb Observer, book *orderbook.Book) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error().Int("observer", i).Interface("panic", r).
				Msg("update observer panicked")
		}
	}()
	cb(book)
}
