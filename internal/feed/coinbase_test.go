package feed

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b63/bookwatch/internal/orderbook"
)

func newCoinbaseForTest(t *testing.T) (*CoinbaseFeed, *orderbook.Book) {
	t.Helper()
	book := orderbook.New("ETH-USD", "Coinbase")
	f := NewCoinbaseFeed(book, "wss://example.invalid", "api-key", "api-secret", zerolog.Nop())
	return f, book
}

func TestCoinbaseSequenceAdvanceAndMismatch(t *testing.T) {
	f, _ := newCoinbaseForTest(t)

	// the first sequenced message pins the counter
	require.Equal(t, StatusOK, f.ProcessMessage([]byte(`{"sequence_num":5,"channel":"subscriptions"}`)))
	require.Equal(t, StatusOK, f.ProcessMessage([]byte(`{"sequence_num":6,"channel":"subscriptions"}`)))

	// skipping a number is a fatal protocol violation
	assert.Equal(t, StatusFatal, f.ProcessMessage([]byte(`{"sequence_num":8,"channel":"subscriptions"}`)))
}

func TestCoinbaseSnapshotThenUpdate(t *testing.T) {
	f, book := newCoinbaseForTest(t)
	notified := 0
	f.AttachUpdateListener(func(b *orderbook.Book) { notified++ })

	snapshot := `{
		"sequence_num": 0,
		"channel": "l2_data",
		"events": [{
			"type": "snapshot",
			"product_id": "ETH-USD",
			"updates": [
				{"side":"bid","event_time":"2024-01-01T00:00:00Z","price_level":"100.00","new_quantity":"2"},
				{"side":"offer","event_time":"2024-01-01T00:00:00Z","price_level":"101.00","new_quantity":"3"}
			]
		}]
	}`
	require.Equal(t, StatusOK, f.ProcessMessage([]byte(snapshot)))
	assert.Equal(t, 0, notified, "snapshot application must not notify")

	price, qty, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 2.0, qty)

	update := `{
		"sequence_num": 1,
		"channel": "l2_data",
		"events": [{
			"type": "update",
			"product_id": "ETH-USD",
			"updates": [
				{"side":"offer","event_time":"2024-01-01T00:00:01Z","price_level":"101.00","new_quantity":"0"}
			]
		}]
	}`
	require.Equal(t, StatusOK, f.ProcessMessage([]byte(update)))
	assert.Equal(t, 1, notified)

	_, _, ok = book.BestAsk()
	assert.False(t, ok)
}

func TestCoinbaseIgnoresForeignProduct(t *testing.T) {
	f, book := newCoinbaseForTest(t)

	msg := `{
		"sequence_num": 0,
		"channel": "l2_data",
		"events": [{
			"type": "update",
			"product_id": "BTC-USD",
			"updates": [
				{"side":"bid","event_time":"2024-01-01T00:00:00Z","price_level":"50000","new_quantity":"1"}
			]
		}]
	}`
	require.Equal(t, StatusOK, f.ProcessMessage([]byte(msg)))
	assert.Equal(t, 0, book.Depth(orderbook.Bid))
}

func TestCoinbaseUnknownSideSkipped(t *testing.T) {
	f, book := newCoinbaseForTest(t)

	msg := `{
		"sequence_num": 0,
		"channel": "l2_data",
		"events": [{
			"type": "update",
			"product_id": "ETH-USD",
			"updates": [
				{"side":"middle","event_time":"2024-01-01T00:00:00Z","price_level":"99.00","new_quantity":"1"},
				{"side":"bid","event_time":"2024-01-01T00:00:00Z","price_level":"100.00","new_quantity":"2"}
			]
		}]
	}`
	require.Equal(t, StatusOK, f.ProcessMessage([]byte(msg)))
	assert.Equal(t, 1, book.Depth(orderbook.Bid))
	_, ok := book.BidQuantity(100.0)
	assert.True(t, ok)
}

func TestCoinbaseUnknownChannelIgnored(t *testing.T) {
	f, _ := newCoinbaseForTest(t)
	assert.Equal(t, StatusOK, f.ProcessMessage([]byte(`{"channel":"heartbeats","sequence_num":0}`)))
}

func TestCoinbaseErrorEnvelopeIsFatal(t *testing.T) {
	f, _ := newCoinbaseForTest(t)
	assert.Equal(t, StatusFatal, f.ProcessMessage([]byte(`{"type":"error","message":"authentication failure"}`)))
}

func TestParseEventTimeFractionalSeconds(t *testing.T) {
	whole, err := parseEventTime("2024-01-01T00:00:00Z")
	require.NoError(t, err)
	frac, err := parseEventTime("2024-01-01T00:00:00.123456Z")
	require.NoError(t, err)

	assert.InDelta(t, whole+0.123456, frac, 1e-9)

	_, err = parseEventTime("not-a-time")
	assert.Error(t, err)
}

func TestCoinbaseSignedControlFrames(t *testing.T) {
	f, _ := newCoinbaseForTest(t)
	at := time.Unix(1700000000, 0)
	f.now = func() time.Time { return at }

	tr := &fakeTransport{}
	require.NoError(t, f.Subscribe(context.Background(), tr))
	require.NoError(t, f.Unsubscribe(context.Background(), tr))
	require.Len(t, tr.sent, 2)

	mac := hmac.New(sha256.New, []byte("api-secret"))
	mac.Write([]byte("1700000000level2ETH-USD"))
	wantSig := hex.EncodeToString(mac.Sum(nil))

	for i, wantType := range []string{"subscribe", "unsubscribe"} {
		var payload struct {
			Type       string   `json:"type"`
			Channel    string   `json:"channel"`
			APIKey     string   `json:"api_key"`
			ProductIDs []string `json:"product_ids"`
			UserID     string   `json:"user_id"`
			Signature  string   `json:"signature"`
			Timestamp  string   `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal(tr.sent[i], &payload))
		assert.Equal(t, wantType, payload.Type)
		assert.Equal(t, "level2", payload.Channel)
		assert.Equal(t, "api-key", payload.APIKey)
		assert.Equal(t, []string{"ETH-USD"}, payload.ProductIDs)
		assert.Equal(t, "1700000000", payload.Timestamp)
		assert.Equal(t, wantSig, payload.Signature)
	}
}
