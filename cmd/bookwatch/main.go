package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/b63/bookwatch/internal/arbitrage"
	"github.com/b63/bookwatch/internal/config"
	"github.com/b63/bookwatch/internal/feed"
	"github.com/b63/bookwatch/internal/infra/log"
	"github.com/b63/bookwatch/internal/infra/metrics"
	"github.com/b63/bookwatch/internal/orderbook"
	"github.com/b63/bookwatch/internal/ui"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $BOOKWATCH_CONFIG or config.yaml)")
	coinbaseProduct := flag.String("coinbase", "", "coinbase product to watch (e.g. ETH-USD)")
	binanceSymbol := flag.String("binance", "", "binance symbol to watch (e.g. ETHUSD)")
	noDashboard := flag.Bool("no-dashboard", false, "disable the terminal dashboard")
	binSize := flag.Float64("bin-size", 0, "price bin width for the depth charts")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	if *coinbaseProduct != "" {
		cfg.Feeds.Coinbase.Enabled = true
		cfg.Feeds.Coinbase.Product = *coinbaseProduct
	}
	if *binanceSymbol != "" {
		cfg.Feeds.Binance.Enabled = true
		cfg.Feeds.Binance.Symbol = *binanceSymbol
	}
	if *noDashboard {
		cfg.Dashboard.Enabled = false
	}
	if *binSize > 0 {
		cfg.Dashboard.BinSize = *binSize
	}

	logger := log.NewLogger(cfg)

	reg := metrics.Init(logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{Addr: cfg.Server.Addr, Handler: mux, ReadHeaderTimeout: 2 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
	}()

	var (
		books []*orderbook.Book
		feeds []feed.MarketFeed
	)
	if cfg.Feeds.Coinbase.Enabled {
		book := orderbook.New(cfg.Feeds.Coinbase.Product, "Coinbase")
		f := feed.NewCoinbaseFeed(book, cfg.Feeds.Coinbase.WSURL,
			cfg.Feeds.Coinbase.APIKey, cfg.Feeds.Coinbase.APISecret, logger)
		books, feeds = append(books, book), append(feeds, f)
	}
	if cfg.Feeds.Binance.Enabled {
		book := orderbook.New(cfg.Feeds.Binance.Symbol, "Binance")
		fetcher := &feed.DepthClient{URL: cfg.Feeds.Binance.SnapshotURL, APIKey: cfg.Feeds.Binance.APIKey}
		f := feed.NewBinanceFeed(book, fetcher, cfg.Feeds.Binance.WSURL,
			cfg.Feeds.Binance.UseStreamSub, logger)
		books, feeds = append(books, book), append(feeds, f)
	}
	if len(feeds) == 0 {
		logger.Fatal().Msg("no feeds enabled, provide -coinbase/-binance or enable one in config")
	}

	var dashboard *ui.Dashboard
	if cfg.Dashboard.Enabled {
		dashboard = ui.NewDashboard(books, cfg.Dashboard.BinSize)
		if err := dashboard.InitWidgets(); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize dashboard")
		}
		dashboard.StartUpdateListener(ctx)
		for _, f := range feeds {
			f.AttachUpdateListener(dashboard.BookObserver())
		}
	}

	// every feed watches every other book for crossed markets
	tradeLog := log.NewTradeLogger(logger)
	var sink chan<- arbitrage.Signal
	if dashboard != nil {
		sink = dashboard.SignalSink()
	}
	for _, f := range feeds {
		for _, target := range books {
			if target == f.Book() {
				continue
			}
			f.AttachUpdateListener(arbitrage.Watcher(target, tradeLog, sink))
		}
	}

	var wg sync.WaitGroup
	for _, f := range feeds {
		wg.Add(1)
		go func(f feed.MarketFeed) {
			defer wg.Done()
			s := feed.NewSession(f, logger)
			s.HandshakeTimeout = time.Duration(cfg.Session.HandshakeTimeoutSeconds) * time.Second
			s.MaxMessages = cfg.Session.MaxMessages

			err := s.Run(ctx)
			switch {
			case err == nil || ctx.Err() != nil:
			case feed.IsFatal(err):
				logger.Error().Err(err).Str("feed", f.Book().Name()).
					Msg("session desynced, resubscribe from a fresh snapshot to resume")
			default:
				logger.Error().Err(err).Str("feed", f.Book().Name()).Msg("session failed")
			}
		}(f)
	}

	if dashboard != nil {
		if err := ui.Run(ctx, dashboard); err != nil {
			logger.Error().Err(err).Msg("dashboard error")
		}
		cancel()
	}
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}
