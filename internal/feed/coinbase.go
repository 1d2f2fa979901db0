package feed

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/b63/bookwatch/internal/infra/metrics"
	"github.com/b63/bookwatch/internal/orderbook"
)

const level2Channel = "level2"

type l2Update struct {
	Side        string `json:"side"`
	EventTime   string `json:"event_time"`
	PriceLevel  string `json:"price_level"`
	NewQuantity string `json:"new_quantity"`
}

type l2Event struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Updates   []l2Update `json:"updates"`
}

type l2Envelope struct {
	Type        string    `json:"type"`
	SequenceNum *int64    `json:"sequence_num"`
	Channel     string    `json:"channel"`
	Events      []l2Event `json:"events"`
}

// CoinbaseFeed reconciles a book from a strictly sequenced event stream.
// Every sequenced message must carry exactly the expected number; any
// mismatch is fatal. Snapshot events rebuild the book silently, update
// events mutate it and notify observers.
type CoinbaseFeed struct {
	log      zerolog.Logger
	book     *orderbook.Book
	notifier notifier

	wsURL     string
	channel   string
	apiKey    string
	apiSecret string

	// -1 until the first sequenced message arrives
	expectedSeq int64

	now func() time.Time
}

func NewCoinbaseFeed(book *orderbook.Book, wsURL, apiKey, apiSecret string, logger zerolog.Logger) *CoinbaseFeed {
	l := logger.With().Str("feed", book.Name()).Logger()
	return &CoinbaseFeed{
		log:         l,
		book:        book,
		notifier:    notifier{log: l},
		wsURL:       wsURL,
		channel:     level2Channel,
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		expectedSeq: -1,
		now:         time.Now,
	}
}

func (f *CoinbaseFeed) Book() *orderbook.Book { return f.book }

func (f *CoinbaseFeed) AttachUpdateListener(cb Observer) { f.notifier.attach(cb) }

func (f *CoinbaseFeed) URL() string { return f.wsURL }

func (f *CoinbaseFeed) Subscribe(ctx context.Context, t Transport) error {
	return f.sendControl(t, "subscribe")
}

func (f *CoinbaseFeed) Unsubscribe(ctx context.Context, t Transport) error {
	return f.sendControl(t, "unsubscribe")
}

// sendControl sends a signed subscribe/unsubscribe frame. The signature is
// an HMAC-SHA256 hex digest over "{timestamp}{channel}{products}" with the
// channel and product list flattened to comma-joined strings.
func (f *CoinbaseFeed) sendControl(t Transport, typ string) error {
	products := []string{f.book.ProductID()}
	ts := strconv.FormatInt(f.now().Unix(), 10)

	payload := struct {
		Type       string   `json:"type"`
		Channel    string   `json:"channel"`
		APIKey     string   `json:"api_key"`
		ProductIDs []string `json:"product_ids"`
		UserID     string   `json:"user_id"`
		Signature  string   `json:"signature"`
		Timestamp  string   `json:"timestamp"`
	}{
		Type:       typ,
		Channel:    f.channel,
		APIKey:     f.apiKey,
		ProductIDs: products,
		Signature:  f.sign(ts, f.channel, strings.Join(products, ",")),
		Timestamp:  ts,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := t.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	f.log.Info().RawJSON("msg", data).Msg(">>>")
	return nil
}

func (f *CoinbaseFeed) sign(timestamp, channel, products string) string {
	mac := hmac.New(sha256.New, []byte(f.apiSecret))
	mac.Write([]byte(timestamp + channel + products))
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *CoinbaseFeed) ProcessMessage(raw []byte) int {
	metrics.MessagesTotal.WithLabelValues(f.book.Name()).Inc()

	var msg l2Envelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.log.Error().Err(err).Msg("malformed message")
		return StatusFatal
	}
	if msg.Type == "error" {
		f.log.Error().RawJSON("msg", raw).Msg("error envelope from exchange")
		return StatusFatal
	}

	if msg.SequenceNum != nil {
		seq := *msg.SequenceNum
		if f.expectedSeq >= 0 && seq != f.expectedSeq {
			f.log.Error().Int64("expected", f.expectedSeq).Int64("got", seq).
				Msg("sequence number mismatch, book can no longer be trusted")
			metrics.DesyncsTotal.WithLabelValues(f.book.Name()).Inc()
			return StatusFatal
		}
		f.expectedSeq = seq + 1
	}

	switch msg.Channel {
	case "l2_data":
		return f.processBookEvents(msg.Events)
	case "subscriptions":
		// subscribe confirmation, nothing to apply
		return StatusOK
	default:
		f.log.Info().Str("channel", msg.Channel).Msg("ignoring message from channel")
		metrics.RejectedTotal.WithLabelValues(f.book.Name()).Inc()
		return StatusOK
	}
}

func (f *CoinbaseFeed) processBookEvents(events []l2Event) int {
	for _, event := range events {
		if event.ProductID != f.book.ProductID() {
			f.log.Info().Str("product", event.ProductID).Msg("ignoring event for foreign product")
			continue
		}

		switch event.Type {
		case "snapshot":
			f.log.Info().Int("updates", len(event.Updates)).Msg("processing snapshot")
			if err := f.applyUpdates(event.Updates); err != nil {
				f.log.Error().Err(err).Msg("rejecting snapshot event")
				return StatusFatal
			}
			metrics.SnapshotsTotal.WithLabelValues(f.book.Name()).Inc()
			f.setDepthGauges()
		case "update":
			f.log.Debug().Int("updates", len(event.Updates)).Msg("processing updates")
			if err := f.applyUpdates(event.Updates); err != nil {
				f.log.Error().Err(err).Msg("rejecting update event")
				return StatusFatal
			}
			f.setDepthGauges()
			f.notifier.notify(f.book)
		default:
			f.log.Info().Str("type", event.Type).Msg("unknown event type, ignoring")
		}
	}
	return StatusOK
}

func (f *CoinbaseFeed) applyUpdates(updates []l2Update) error {
	for _, u := range updates {
		var side orderbook.Side
		switch u.Side {
		case "bid":
			side = orderbook.Bid
		case "offer":
			side = orderbook.Ask
		default:
			f.log.Info().Str("side", u.Side).Msg("unknown side in update event")
			continue
		}

		timestamp, err := parseEventTime(u.EventTime)
		if err != nil {
			return fmt.Errorf("parse event_time %q: %w", u.EventTime, err)
		}
		price, err := strconv.ParseFloat(u.PriceLevel, 64)
		if err != nil {
			return fmt.Errorf("parse price_level %q: %w", u.PriceLevel, err)
		}
		quantity, err := strconv.ParseFloat(u.NewQuantity, 64)
		if err != nil {
			return fmt.Errorf("parse new_quantity %q: %w", u.NewQuantity, err)
		}

		if err := f.book.UpdateOrder(side, price, quantity, timestamp); err != nil {
			return err
		}
	}
	return nil
}

// parseEventTime converts an ISO-8601 timestamp with optional fractional
// seconds and trailing UTC marker to fractional unix seconds.
func parseEventTime(s string) (float64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, err
	}
	return float64(t.UnixNano()) / float64(time.Second), nil
}

func (f *CoinbaseFeed) setDepthGauges() {
	metrics.BookLevels.WithLabelValues(f.book.Name(), "bid").Set(float64(f.book.Depth(orderbook.Bid)))
	metrics.BookLevels.WithLabelValues(f.book.Name(), "ask").Set(float64(f.book.Depth(orderbook.Ask)))
}
