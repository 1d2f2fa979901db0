// Package ui renders the monitored books and arbitrage signals in the
// terminal.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/mum4k/termdash"
	"github.com/mum4k/termdash/cell"
	"github.com/mum4k/termdash/container"
	"github.com/mum4k/termdash/container/grid"
	"github.com/mum4k/termdash/linestyle"
	"github.com/mum4k/termdash/terminal/tcell"
	"github.com/mum4k/termdash/terminal/terminalapi"
	"github.com/mum4k/termdash/widgets/barchart"
	"github.com/mum4k/termdash/widgets/text"

	"github.com/b63/bookwatch/internal/arbitrage"
	"github.com/b63/bookwatch/internal/orderbook"
)

const (
	redrawInterval = 250 * time.Millisecond
	depthBuckets   = 12
	barScale       = 100
)

// Dashboard shows, per book, a best bid/ask summary and a bucketed depth
// chart, plus a rolling feed of arbitrage signals. It consumes read-only
// book views; refreshes arrive over a buffered channel and are dropped on
// overflow so rendering can never stall a feed.
type Dashboard struct {
	books   []*orderbook.Book
	binSize float64

	summaries   map[string]*text.Text
	bidCharts   map[string]*barchart.BarChart
	askCharts   map[string]*barchart.BarChart
	signalsView *text.Text

	refreshChan chan *orderbook.Book
	signalChan  chan arbitrage.Signal
}

func NewDashboard(books []*orderbook.Book, binSize float64) *Dashboard {
	return &Dashboard{
		books:       books,
		binSize:     binSize,
		summaries:   make(map[string]*text.Text),
		bidCharts:   make(map[string]*barchart.BarChart),
		askCharts:   make(map[string]*barchart.BarChart),
		refreshChan: make(chan *orderbook.Book, 100),
		signalChan:  make(chan arbitrage.Signal, 100),
	}
}

func (d *Dashboard) InitWidgets() error {
	for _, book := range d.books {
		summary, err := text.New(text.WrapAtWords())
		if err != nil {
			return fmt.Errorf("create summary widget for %s: %w", book.Name(), err)
		}
		d.summaries[book.Name()] = summary

		bidChart, err := barchart.New(
			barchart.BarColors(sideColors(cell.ColorGreen)),
			barchart.BarWidth(3),
		)
		if err != nil {
			return fmt.Errorf("create bid chart for %s: %w", book.Name(), err)
		}
		d.bidCharts[book.Name()] = bidChart

		askChart, err := barchart.New(
			barchart.BarColors(sideColors(cell.ColorRed)),
			barchart.BarWidth(3),
		)
		if err != nil {
			return fmt.Errorf("create ask chart for %s: %w", book.Name(), err)
		}
		d.askCharts[book.Name()] = askChart
	}

	signals, err := text.New(text.RollContent(), text.WrapAtWords())
	if err != nil {
		return fmt.Errorf("create signal widget: %w", err)
	}
	d.signalsView = signals
	return nil
}

func sideColors(c cell.Color) []cell.Color {
	colors := make([]cell.Color, depthBuckets)
	for i := range colors {
		colors[i] = c
	}
	return colors
}

// BookObserver returns the observer to attach to a feed. It never blocks:
// when the dashboard lags, refreshes are dropped and the next one repaints
// the same state anyway.
func (d *Dashboard) BookObserver() func(*orderbook.Book) {
	return func(book *orderbook.Book) {
		select {
		case d.refreshChan <- book:
		default:
		}
	}
}

// SignalSink is where arbitrage watchers deliver their signals.
func (d *Dashboard) SignalSink() chan<- arbitrage.Signal {
	return d.signalChan
}

func (d *Dashboard) StartUpdateListener(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case book := <-d.refreshChan:
				d.refreshBook(book)
			case sig := <-d.signalChan:
				d.appendSignal(sig)
			}
		}
	}()
}

func (d *Dashboard) refreshBook(book *orderbook.Book) {
	summary, ok := d.summaries[book.Name()]
	if !ok {
		return
	}

	bidPrice, bidQty, haveBid := book.BestBid()
	askPrice, askQty, haveAsk := book.BestAsk()

	summary.Reset()
	if haveBid {
		summary.Write(fmt.Sprintf("Max. Bid: %10.2f (%.2e)\n", bidPrice, bidQty))
	} else {
		summary.Write("Max. Bid: -\n")
	}
	if haveAsk {
		summary.Write(fmt.Sprintf("Min. Ask: %10.2f (%.2e)\n", askPrice, askQty))
	} else {
		summary.Write("Min. Ask: -\n")
	}
	if haveBid && haveAsk {
		summary.Write(fmt.Sprintf("Bid/Ask:  %10.4f\n", askPrice-bidPrice))
	}
	summary.Write(fmt.Sprintf("Total Bid: %d\nTotal Ask: %d\n",
		book.Depth(orderbook.Bid), book.Depth(orderbook.Ask)))

	d.bidCharts[book.Name()].Values(
		scaleBars(BidBuckets(book, d.binSize, depthBuckets), book.MaxBidQuantity()), barScale)
	d.askCharts[book.Name()].Values(
		scaleBars(AskBuckets(book, d.binSize, depthBuckets), book.MaxAskQuantity()), barScale)
}

// scaleBars normalizes bucket sums against the side's high-water quantity,
// capping at full scale since a bucket can aggregate several levels.
func scaleBars(buckets []float64, maxQuantity float64) []int {
	if maxQuantity <= 0 {
		maxQuantity = 1
	}
	out := make([]int, len(buckets))
	for i, b := range buckets {
		v := int(b / maxQuantity * barScale)
		if v > barScale {
			v = barScale
		}
		out[i] = v
	}
	return out
}

func (d *Dashboard) appendSignal(sig arbitrage.Signal) {
	d.signalsView.Write(fmt.Sprintf("%s %s [%.2e @ $%.2f] -> %s [%.2e @ $%.2f], max profit: $%.6f\n",
		sig.At.Format("15:04:05"),
		sig.Source, sig.AskQuantity, sig.AskPrice,
		sig.Target, sig.BidQuantity, sig.BidPrice,
		sig.Profit))
}

func createLayout(d *Dashboard) ([]container.Option, error) {
	builder := grid.New()

	bookRowPerc := 75 / len(d.books)
	for _, book := range d.books {
		builder.Add(
			grid.RowHeightPerc(bookRowPerc,
				grid.ColWidthPerc(30,
					grid.Widget(d.summaries[book.Name()],
						container.Border(linestyle.Light),
						container.BorderTitle(fmt.Sprintf(" %s %s ", book.Name(), book.ProductID())),
					),
				),
				grid.ColWidthPerc(35,
					grid.Widget(d.bidCharts[book.Name()],
						container.Border(linestyle.Light),
						container.BorderTitle(" Bids "),
					),
				),
				grid.ColWidthPerc(35,
					grid.Widget(d.askCharts[book.Name()],
						container.Border(linestyle.Light),
						container.BorderTitle(" Asks "),
					),
				),
			),
		)
	}
	builder.Add(
		grid.RowHeightPerc(100-bookRowPerc*len(d.books),
			grid.Widget(d.signalsView,
				container.Border(linestyle.Light),
				container.BorderTitle(" Arbitrage Signals "),
			),
		),
	)

	return builder.Build()
}

// Run owns the terminal until the context is cancelled.
func Run(ctx context.Context, d *Dashboard) error {
	t, err := tcell.New(tcell.ColorMode(terminalapi.ColorMode256))
	if err != nil {
		return fmt.Errorf("initialize terminal: %w", err)
	}
	defer t.Close()

	layout, err := createLayout(d)
	if err != nil {
		return fmt.Errorf("build grid layout: %w", err)
	}
	c, err := container.New(t, layout...)
	if err != nil {
		return fmt.Errorf("create root container: %w", err)
	}

	return termdash.Run(ctx, t, c, termdash.RedrawInterval(redrawInterval))
}
