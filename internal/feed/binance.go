package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/b63/bookwatch/internal/infra/metrics"
	"github.com/b63/bookwatch/internal/orderbook"
)

// bootstrapEpoch is the timestamp applied to snapshot levels. It is below
// any real event time (exchanges stamp events with positive unix clocks),
// so a live update always supersedes the snapshot no matter when it
// arrives.
const bootstrapEpoch = -1.0

const snapshotDepthLimit = 5000

// ErrSnapshotFailed marks a depth snapshot request that came back as an
// error envelope. The session cannot start without a snapshot.
var ErrSnapshotFailed = errors.New("feed: order book snapshot request failed")

// Snapshot is a full point-in-time dump of one product's book, with the
// update id it was taken at.
type Snapshot struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// SnapshotFetcher fetches the bootstrap snapshot for a symbol.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, symbol string) (*Snapshot, error)
}

// DepthClient fetches snapshots from the exchange REST depth endpoint.
type DepthClient struct {
	URL    string
	APIKey string
	HTTP   *http.Client
}

func (c *DepthClient) Fetch(ctx context.Context, symbol string) (*Snapshot, error) {
	url := fmt.Sprintf("%s?symbol=%s&limit=%d", c.URL, strings.ToUpper(symbol), snapshotDepthLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-mbx-apikey", c.APIKey)

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("depth request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	var body struct {
		Code *int64 `json:"code"`
		Msg  string `json:"msg"`
		Snapshot
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode depth response: %w", err)
	}
	if body.Code != nil {
		return nil, fmt.Errorf("%w: code=%d msg=%q", ErrSnapshotFailed, *body.Code, body.Msg)
	}
	return &body.Snapshot, nil
}

// depthUpdate is the incremental depth message: all level changes between
// update ids U and u inclusive.
type depthUpdate struct {
	Event     string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	FirstID   int64       `json:"U"`
	LastID    int64       `json:"u"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

// BinanceFeed reconciles a book from a REST snapshot plus a diff-range
// stream. A diff is applied only when its id range covers the next id the
// book expects; a range past that point is a gap and kills the session.
type BinanceFeed struct {
	log      zerolog.Logger
	book     *orderbook.Book
	fetcher  SnapshotFetcher
	notifier notifier

	wsURL        string
	stream       string
	useStreamSub bool

	// outgoing control frame correlation
	messageID int64

	bootstrapped bool
	snapshotID   int64
	diffAccepted bool
	lastID       int64
}

func NewBinanceFeed(book *orderbook.Book, fetcher SnapshotFetcher, wsURL string, useStreamSub bool, logger zerolog.Logger) *BinanceFeed {
	l := logger.With().Str("feed", book.Name()).Logger()
	return &BinanceFeed{
		log:          l,
		book:         book,
		fetcher:      fetcher,
		notifier:     notifier{log: l},
		wsURL:        wsURL,
		stream:       "depth",
		useStreamSub: useStreamSub,
		messageID:    1,
	}
}

func (f *BinanceFeed) Book() *orderbook.Book { return f.book }

func (f *BinanceFeed) AttachUpdateListener(cb Observer) { f.notifier.attach(cb) }

// URL joins the stream endpoint with the product's depth stream path.
func (f *BinanceFeed) URL() string {
	product := strings.ToLower(f.book.ProductID())
	return fmt.Sprintf("%s/%s@%s@100ms", f.wsURL, product, f.stream)
}

// Subscribe bootstraps the book from a snapshot. The depth stream itself is
// selected by the connection URL; a SUBSCRIBE control frame is only sent
// when stream-level subscription is enabled.
func (f *BinanceFeed) Subscribe(ctx context.Context, t Transport) error {
	if f.useStreamSub {
		if err := f.sendControl(t, "SUBSCRIBE"); err != nil {
			return err
		}
	}
	return f.bootstrap(ctx)
}

// Unsubscribe is a no-op unless a stream-level subscription was made: with
// the stream bound to the connection URL there is nothing to tear down.
func (f *BinanceFeed) Unsubscribe(ctx context.Context, t Transport) error {
	if !f.useStreamSub {
		return nil
	}
	return f.sendControl(t, "UNSUBSCRIBE")
}

func (f *BinanceFeed) sendControl(t Transport, method string) error {
	payload := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int64    `json:"id"`
	}{
		Method: method,
		Params: []string{fmt.Sprintf("%s@%s", strings.ToLower(f.book.ProductID()), f.stream)},
		ID:     f.messageID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := t.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	f.log.Info().RawJSON("msg", data).Msg(">>>")
	return nil
}

func (f *BinanceFeed) bootstrap(ctx context.Context) error {
	snap, err := f.fetcher.Fetch(ctx, f.book.ProductID())
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	f.log.Info().Int("levels", len(snap.Bids)+len(snap.Asks)).
		Int64("lastUpdateId", snap.LastUpdateID).Msg("processing snapshot")

	if err := f.applyLevels(orderbook.Ask, snap.Asks, bootstrapEpoch); err != nil {
		return err
	}
	if err := f.applyLevels(orderbook.Bid, snap.Bids, bootstrapEpoch); err != nil {
		return err
	}

	f.snapshotID = snap.LastUpdateID
	f.bootstrapped = true
	metrics.SnapshotsTotal.WithLabelValues(f.book.Name()).Inc()
	f.setDepthGauges()
	return nil
}

func (f *BinanceFeed) ProcessMessage(raw []byte) int {
	metrics.MessagesTotal.WithLabelValues(f.book.Name()).Inc()

	var probe struct {
		ID     *int64          `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		f.log.Error().Err(err).Msg("malformed message")
		return StatusFatal
	}
	if probe.ID != nil && probe.Result != nil {
		// control acknowledgement
		f.log.Info().RawJSON("msg", raw).Msg("received control response")
		f.messageID++
		return StatusOK
	}

	var msg depthUpdate
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.log.Error().Err(err).Msg("malformed message")
		return StatusFatal
	}
	if msg.Event != "depthUpdate" {
		f.log.Warn().RawJSON("msg", raw).Msg("ignoring unknown message")
		metrics.RejectedTotal.WithLabelValues(f.book.Name()).Inc()
		return StatusOK
	}

	if !f.diffAccepted {
		// nothing but the snapshot applied yet: the first usable diff
		// must straddle the snapshot id
		if !f.bootstrapped {
			f.log.Error().Msg("depth update before snapshot bootstrap")
			return StatusFatal
		}
		if !(msg.FirstID <= f.snapshotID+1 && f.snapshotID+1 <= msg.LastID) {
			f.log.Debug().Int64("snapshotId", f.snapshotID).
				Int64("U", msg.FirstID).Int64("u", msg.LastID).
				Msg("ignoring pre-snapshot update")
			metrics.RejectedTotal.WithLabelValues(f.book.Name()).Inc()
			return StatusOK
		}
	} else if !(msg.FirstID <= f.lastID+1 && f.lastID+1 <= msg.LastID) {
		f.log.Error().Int64("lastId", f.lastID).
			Int64("U", msg.FirstID).Int64("u", msg.LastID).
			Msg("update id gap, book can no longer be trusted")
		metrics.DesyncsTotal.WithLabelValues(f.book.Name()).Inc()
		return StatusFatal
	}

	f.log.Debug().Int("updates", len(msg.Bids)+len(msg.Asks)).Msg("processing updates")
	eventTime := float64(msg.EventTime)
	if err := f.applyLevels(orderbook.Ask, msg.Asks, eventTime); err != nil {
		f.log.Error().Err(err).Msg("rejecting update batch")
		return StatusFatal
	}
	if err := f.applyLevels(orderbook.Bid, msg.Bids, eventTime); err != nil {
		f.log.Error().Err(err).Msg("rejecting update batch")
		return StatusFatal
	}

	f.diffAccepted = true
	f.lastID = msg.LastID
	f.setDepthGauges()
	f.notifier.notify(f.book)
	return StatusOK
}

func (f *BinanceFeed) applyLevels(side orderbook.Side, levels [][2]string, timestamp float64) error {
	for _, l := range levels {
		price, err := strconv.ParseFloat(l[0], 64)
		if err != nil {
			return fmt.Errorf("parse price %q: %w", l[0], err)
		}
		quantity, err := strconv.ParseFloat(l[1], 64)
		if err != nil {
			return fmt.Errorf("parse quantity %q: %w", l[1], err)
		}
		if err := f.book.UpdateOrder(side, price, quantity, timestamp); err != nil {
			return err
		}
	}
	return nil
}

func (f *BinanceFeed) setDepthGauges() {
	metrics.BookLevels.WithLabelValues(f.book.Name(), "bid").Set(float64(f.book.Depth(orderbook.Bid)))
	metrics.BookLevels.WithLabelValues(f.book.Name(), "ask").Set(float64(f.book.Depth(orderbook.Ask)))
}
