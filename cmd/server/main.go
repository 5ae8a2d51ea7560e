package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/opinex/exchange-engine/internal/book"
	"github.com/opinex/exchange-engine/internal/bus"
	"github.com/opinex/exchange-engine/internal/correlation"
	"github.com/opinex/exchange-engine/internal/engine"
	"github.com/opinex/exchange-engine/internal/gateway"
	"github.com/opinex/exchange-engine/internal/ledger"
	"github.com/opinex/exchange-engine/internal/metrics"
	"github.com/opinex/exchange-engine/internal/seed"
	"github.com/opinex/exchange-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Redis client (bus + cache), optional ---
	var rdb *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("connected to Redis")
	}

	// --- Message bus ---
	var fabric bus.Bus
	if rdb != nil {
		fabric = bus.NewRedis(rdb, "engine.commands")
	} else {
		slog.Warn("REDIS_URL not set, using in-process bus")
		mem := bus.NewMemory(1024)
		cleanup = append(cleanup, mem.Close)
		fabric = mem
	}

	// --- Trade log store ---
	var st store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis trade cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory trade log (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Engine and processor ---
	l := ledger.New()
	b := book.New()
	eng := engine.New(l, b)
	proc := engine.NewProcessor(eng, fabric, st, logger)

	procErr := make(chan error, 1)
	go func() { procErr <- proc.Run(ctx) }()

	// --- Reply correlation ---
	tracker := correlation.NewTracker(5 * time.Second)
	go func() {
		if err := tracker.Run(ctx, fabric); err != nil && ctx.Err() == nil {
			slog.Error("reply tracker stopped", "err", err)
		}
	}()

	// --- WebSocket hub ---
	wsHub := gateway.NewWSHub()
	go func() {
		if err := wsHub.Run(ctx, fabric); err != nil && ctx.Err() == nil {
			slog.Error("websocket hub stopped", "err", err)
		}
	}()

	// --- Demo data ---
	if os.Getenv("SEED") == "1" {
		if err := seed.Load(ctx, fabric, logger); err != nil {
			slog.Error("seeding failed", "err", err)
			os.Exit(1)
		}
	}

	// --- HTTP router ---
	svc := gateway.NewService(fabric, tracker)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"exchange-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time book updates.
		r.Get("/ws", wsHub.HandleWS)
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("exchange-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown, or fatal processor failure.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-procErr:
		if err != nil {
			slog.Error("command processor failed", "err", err)
			os.Exit(1)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down exchange-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("exchange-engine stopped")
}
