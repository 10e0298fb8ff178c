package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fandex/exchange/internal/accrual"
	"github.com/fandex/exchange/internal/config"
	"github.com/fandex/exchange/internal/database"
	"github.com/fandex/exchange/internal/exchange"
	"github.com/fandex/exchange/internal/feed"
	"github.com/fandex/exchange/internal/model"
	"github.com/fandex/exchange/internal/store"
	"github.com/fandex/exchange/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/exchanged.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting exchanged",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewPostgres(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// Accrual engine
	tiers := make(map[model.Tier]accrual.Limits, len(cfg.Accrual.Tiers))
	for name, tc := range cfg.Accrual.Tiers {
		tiers[model.Tier(name)] = accrual.Limits{RatePerHour: tc.RatePerHour, CapLimit: tc.CapLimit}
	}
	engine := accrual.NewEngine(accrual.Config{
		Tiers:            tiers,
		SweepInterval:    cfg.Accrual.SweepInterval,
		SweepConcurrency: cfg.Accrual.SweepConcurrency,
	}, st, logger)

	// Trade feed
	hub := feed.NewHub(logger)

	// Exchange core
	ex := exchange.New(
		exchange.Config{MarketRemainder: exchange.MarketRemainder(cfg.Matching.MarketRemainder)},
		st,
		engine,
		exchange.WithLogger(logger),
		exchange.WithPublisher(hub),
	)

	// Seed configured instruments
	for _, in := range cfg.Instruments {
		err := ex.RegisterInstrument(ctx, model.Instrument{
			ID:   in.ID,
			Kind: model.InstrumentKind(in.Kind),
			Name: in.Name,
		})
		if err != nil {
			logger.Error("failed to register instrument", "instrument", in.ID, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("instruments registered", "count", len(cfg.Instruments))

	// Load resting orders back into the books
	if err := ex.Rehydrate(ctx); err != nil {
		logger.Error("failed to rehydrate order books", "error", err)
		os.Exit(1)
	}

	// Background components
	if err := engine.Start(ctx); err != nil {
		logger.Error("failed to start accrual engine", "error", err)
		os.Exit(1)
	}
	reconciler := exchange.NewReconciler(exchange.ReconcilerConfig{
		Interval: cfg.Reconciler.Interval,
		MinAge:   cfg.Reconciler.MinAge,
	}, st, logger)
	if err := reconciler.Start(ctx); err != nil {
		logger.Error("failed to start reconciler", "error", err)
		os.Exit(1)
	}

	// Health and feed server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHandler(pool, ex, hub),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("exchanged running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reconciler.Stop(shutdownCtx)
	engine.Stop(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)

	logger.Info("exchanged stopped")
}

// createHandler builds the HTTP surface: health, the websocket trade feed,
// and a depth view for debugging.
func createHandler(pinger interface {
	Ping(ctx context.Context) error
}, ex *exchange.Exchange, hub *feed.Hub) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := pinger.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		health.Components["feed"] = map[string]any{
			"subscribers": hub.Subscribers(),
			"dropped":     hub.Dropped(),
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle("/ws/trades", feed.NewHandler(hub))

	mux.HandleFunc("/debug/depth", func(w http.ResponseWriter, r *http.Request) {
		instrument := r.URL.Query().Get("instrument")
		if instrument == "" {
			http.Error(w, "instrument query parameter required", http.StatusBadRequest)
			return
		}
		bids, asks := ex.Depth(instrument)

		type jsonLevel struct {
			Price    string `json:"price"`
			Quantity int64  `json:"quantity"`
		}
		resp := struct {
			Instrument string      `json:"instrument"`
			Bids       []jsonLevel `json:"bids"`
			Asks       []jsonLevel `json:"asks"`
		}{Instrument: instrument}
		for _, l := range bids {
			resp.Bids = append(resp.Bids, jsonLevel{Price: l.Price.String(), Quantity: l.Quantity})
		}
		for _, l := range asks {
			resp.Asks = append(resp.Asks, jsonLevel{Price: l.Price.String(), Quantity: l.Quantity})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	return mux
}
