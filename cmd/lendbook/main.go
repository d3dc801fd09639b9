package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lendbook/internal/book"
	"lendbook/internal/config"
	"lendbook/internal/oracle"
	"lendbook/internal/server"
	"lendbook/internal/storage"
	"lendbook/internal/storage/postgres"
	"lendbook/internal/token"
)

func main() {
	root := &cobra.Command{
		Use:          "lendbook",
		Short:        "Order book lending market",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lending book API server",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("postgres-dsn", "", "Postgres DSN for snapshots (optional)")
	serveCmd.Flags().String("journal", "./data/journal.jsonl", "event journal JSONL path")
	serveCmd.Flags().Duration("snapshot-interval", time.Minute, "interval between Postgres snapshots")
	serveCmd.Flags().String("quote-symbol", "USDC", "quote asset symbol")
	serveCmd.Flags().String("base-symbol", "WETH", "base asset symbol")
	serveCmd.Flags().Float64("oracle-price", 100, "bootstrap oracle price")
	serveCmd.Flags().Float64("base-rate", 0.02, "yearly borrow rate floor")
	serveCmd.Flags().Float64("rate-slope", 0.08, "utilization-responsive rate slope")
	serveCmd.Flags().Float64("max-ltv", 0.99, "maximum loan-to-value ratio")
	serveCmd.Flags().Float64("liquidation-fee", 0.02, "direct liquidation fee")
	serveCmd.Flags().Float64("initial-price", 100, "limit price at tick zero")
	serveCmd.Flags().Float64("price-step", 1.1, "geometric ratio between ticks")
	serveCmd.Flags().Int64("min-pool-id", -50, "lowest tick")
	serveCmd.Flags().Int64("max-pool-id", 50, "highest tick")
	serveCmd.Flags().Int64("min-deposit-quote", 100, "minimum new quote order")
	serveCmd.Flags().Int64("min-deposit-base", 2, "minimum new base order")
	serveCmd.Flags().Int("max-orders-per-user", 8, "per-user order slot cap")
	serveCmd.Flags().Int("max-positions-per-user", 5, "per-user position slot cap")
	serveCmd.Flags().Int("min-liquidation-rounds", 3, "minimum liquidation rounds per take")
	serveCmd.Flags().Int("max-liquidation-ops", 64, "liquidation scan bound per take")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	quote := token.NewBank(cfg.QuoteSymbol)
	base := token.NewBank(cfg.BaseSymbol)
	feed := oracle.NewStatic(cfg.OracleWad())

	b, err := book.New(cfg.BookParams(), quote, base, feed, logger)
	if err != nil {
		return err
	}

	journal := storage.NewJsonlJournal(cfg.Journal, logger)
	b.SetRecorder(journal)

	var store *postgres.Store
	if cfg.PostgresDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer store.Close()

		// Events fan out to both sinks; Postgres failures do not stall the
		// ledger or the JSONL journal.
		b.SetRecorder(storage.RecorderFunc(func(ev book.Event) {
			journal.Record(ev)
			if err := store.InsertEvents(ctx, []book.Event{ev}); err != nil {
				logger.Warn("event insert failed", zap.Error(err), zap.String("op", ev.Op))
			}
		}))
		go snapshotLoop(ctx, b, store, cfg.SnapshotInterval, logger)
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.New(b, quote, base, logger).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server start",
			zap.String("listen", cfg.Listen),
			zap.String("quote", cfg.QuoteSymbol),
			zap.String("base", cfg.BaseSymbol),
			zap.String("journal", cfg.Journal),
			zap.Bool("snapshots", store != nil),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// snapshotLoop periodically mirrors the book into Postgres. Snapshots are
// best effort; the in-memory ledger with its JSONL journal stays the source
// of truth.
func snapshotLoop(ctx context.Context, b *book.Book, store *postgres.Store, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := store.UpsertPools(ctx, b.Pools()); err != nil {
			logger.Warn("snapshot pools failed", zap.Error(err))
			continue
		}
		if err := store.UpsertOrders(ctx, b.Orders()); err != nil {
			logger.Warn("snapshot orders failed", zap.Error(err))
			continue
		}
		if err := store.UpsertPositions(ctx, b.Positions()); err != nil {
			logger.Warn("snapshot positions failed", zap.Error(err))
			continue
		}
		if err := store.SaveState(ctx, "book", time.Now().Unix()); err != nil {
			logger.Warn("snapshot state failed", zap.Error(err))
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
