// Command replay re-runs a persisted session through the full indicator and
// strategy pipeline with paper fills, one tick at a time. Useful for
// strategy tuning against recorded market days.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"tmf-trader/internal/execution"
	"tmf-trader/internal/indicator"
	"tmf-trader/internal/logger"
	"tmf-trader/internal/market"
	"tmf-trader/internal/markethours"
	"tmf-trader/internal/model"
	redisstore "tmf-trader/internal/store/redis"
	sqlitestore "tmf-trader/internal/store/sqlite"
	"tmf-trader/internal/strategy"
)

func main() {
	var (
		source    = flag.String("source", "sqlite", "tick source: sqlite or redis")
		symbol    = flag.String("symbol", "TMFR1", "contract symbol")
		session   = flag.String("session", markethours.SessionTag(time.Now()), "session date, e.g. 2025.03.14")
		sqlPath   = flag.String("sqlite", "data/sessions.db", "sqlite archive path")
		redisAddr = flag.String("redis", "localhost:6379", "redis address")
		window    = flag.Duration("window", 2*time.Hour, "event buffer retention window")
		slippage  = flag.Float64("slippage", 0.5, "paper fill slippage in points")
		qty       = flag.Int64("qty", 1, "order quantity per entry")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	slogger := logger.Init("tmf-replay", slog.LevelWarn)

	ctx := context.Background()
	ticks, err := loadTicks(ctx, *source, *symbol, *session, *sqlPath, *redisAddr)
	if err != nil {
		log.Fatalf("[replay] load ticks: %v", err)
	}
	if len(ticks) == 0 {
		log.Fatalf("[replay] no ticks for %s %s", *symbol, *session)
	}
	log.Printf("[replay] %d ticks, %s .. %s", len(ticks),
		ticks[0].TS.Format(time.RFC3339), ticks[len(ticks)-1].TS.Format(time.RFC3339))

	buf := market.NewBuffer(*symbol, market.Config{WindowSize: *window})
	provider := indicator.NewProvider(buf, nil, *session, slogger)
	facade := indicator.NewFacade(provider)
	placer := execution.NewPaperPlacer(provider.LatestPrice, *slippage, nil)

	runner := strategy.NewRunner(buf, provider, placer, nil,
		strategy.NewDonchianStrategy(facade, *qty),
		strategy.NewMAStrategy(provider, facade, *qty),
	)
	runner.CloseAllOnStop = false

	fills := 0
	drain := func() {
		for {
			select {
			case <-placer.Fills():
				fills++
			default:
				return
			}
		}
	}

	start := time.Now()
	for _, t := range ticks {
		if err := buf.AppendTick(t); err != nil {
			continue
		}
		buf.AdvanceWindow()
		runner.Step(t.TS)
		drain()
	}
	log.Printf("[replay] done in %s", time.Since(start).Round(time.Millisecond))

	for _, p := range placer.Positions() {
		log.Printf("[replay] open position: %s %s x%d @ %.1f", p.Symbol, p.Action, p.Qty, p.AvgPrice)
	}
	log.Printf("[replay] fills=%d", fills)
}

func loadTicks(ctx context.Context, source, symbol, session, sqlPath, redisAddr string) ([]model.Tick, error) {
	switch source {
	case "sqlite":
		archive, err := sqlitestore.New(sqlitestore.Config{DBPath: sqlPath})
		if err != nil {
			return nil, err
		}
		defer archive.Close()
		return archive.ReadSession(ctx, symbol, session)
	case "redis":
		store, err := redisstore.New(redisstore.Config{Addr: redisAddr})
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.ReadTicks(ctx, symbol, session, time.Unix(0, 0), time.Now())
	default:
		flag.Usage()
		os.Exit(2)
		return nil, nil
	}
}
