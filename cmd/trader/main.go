package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tmf-trader/config"
	"tmf-trader/internal/execution"
	"tmf-trader/internal/feed"
	"tmf-trader/internal/indicator"
	"tmf-trader/internal/logger"
	"tmf-trader/internal/market"
	"tmf-trader/internal/markethours"
	"tmf-trader/internal/metrics"
	redisstore "tmf-trader/internal/store/redis"
	sqlitestore "tmf-trader/internal/store/sqlite"
	"tmf-trader/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[trader] starting...")

	slogger := logger.Init("tmf-trader", slog.LevelInfo)
	cfg := config.Load()

	sessionTag := markethours.SessionTag(time.Now())
	log.Printf("[trader] symbol=%s session=%s", cfg.Symbol, sessionTag)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithSession(ctx, cfg.Symbol+"@"+sessionTag)
	slogger.Info("session start", logger.WithSessionAttrs(ctx)...)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics ----
	prom := metrics.New(nil)
	go metrics.Serve(cfg.MetricsAddr)

	// ---- Redis (durable tick stream + indicator history) ----
	var (
		store  *redisstore.Store
		writer *redisstore.HistoryWriter
		flush  indicator.FlushStore
		rec    feed.Recorder
		older  feed.TickReader
	)
	store, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		KeyTTL:   cfg.HistoryTTL,
	})
	if err != nil {
		log.Printf("[trader] WARNING: redis init failed: %v (continuing without persistence)", err)
		store = nil
	} else {
		writer = redisstore.NewHistoryWriter(store)
		writer.OnDrop = func() { prom.FlushDropsTotal.Inc() }
		flush = writer
		rec = store
		older = store
		log.Println("[trader] redis store ready")
	}

	// ---- SQLite (end-of-session archive + trade journal) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	archive, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[trader] sqlite init failed: %v", err)
	}
	defer archive.Close()

	os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755)
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[trader] journal init failed: %v", err)
	}
	defer journal.Close()

	// ---- Market event buffer + indicators ----
	buf := market.NewBuffer(cfg.Symbol, market.Config{WindowSize: cfg.WindowSize})
	provider := indicator.NewProvider(buf, flush, sessionTag, slogger)
	provider.OnManagerError = func(name string) {
		prom.ManagerErrors.WithLabelValues(name).Inc()
	}
	provider.OnManagerCount = func(n int) {
		prom.ManagersActive.Set(float64(n))
	}
	facade := indicator.NewFacade(provider)

	// ---- Execution ----
	if !cfg.PaperTrading {
		log.Println("[trader] WARNING: live order routing not wired, using paper placer")
	}
	placer := execution.NewPaperPlacer(provider.LatestPrice, cfg.Slippage, journal)

	// ---- Strategies + runner ----
	runner := strategy.NewRunner(buf, provider, placer, prom,
		strategy.NewDonchianStrategy(facade, cfg.OrderQty),
		strategy.NewMAStrategy(provider, facade, cfg.OrderQty),
	)
	runner.Start()

	// ---- Feed ----
	client := feed.NewClient(feed.Config{
		BaseURL:    cfg.GatewayBaseURL,
		WSURL:      cfg.GatewayWSURL,
		APIKey:     cfg.GatewayAPIKey,
		SecretKey:  cfg.GatewaySecretKey,
		TOTPSecret: cfg.GatewayTOTP,
	})
	backfill := feed.NewBackfill(client, older, cfg.Symbol, buf.WindowSize())
	dispatcher := feed.NewDispatcher(buf, rec, prom, backfill)
	stream := feed.NewStream(client, cfg.Symbol, dispatcher)
	stream.OnReconnect = func() { prom.WSReconnects.Inc() }

	go dispatcher.Run(ctx)
	go func() {
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[trader] stream exited: %v", err)
		}
	}()

	// ---- Wait for shutdown ----
	sig := <-sigCh
	log.Printf("[trader] received %v, shutting down", sig)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	runner.Stop(stopCtx)

	if writer != nil {
		writer.Close()
	}

	ticks := buf.WindowTicks()
	if len(ticks) > 0 {
		if err := archive.ArchiveSession(stopCtx, cfg.Symbol, sessionTag, ticks); err != nil {
			log.Printf("[trader] archive session: %v", err)
		} else {
			log.Printf("[trader] archived %d ticks for %s", len(ticks), sessionTag)
		}
	}
	if store != nil {
		store.Close()
	}
	log.Println("[trader] bye")
}
