// Command server runs the settlement engine: it loads configuration, wires
// storage, custody, the oracle resolver and event publishers into the
// engine, and serves the HTTP API until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/settlement-engine/internal/api"
	"github.com/atmx/settlement-engine/internal/config"
	"github.com/atmx/settlement-engine/internal/keeper"
	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/notify"
	"github.com/atmx/settlement-engine/internal/oracle"
	"github.com/atmx/settlement-engine/internal/settlement"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/vault"
)

// custody is what the engine and the account routes need from a vault.
type custody interface {
	settlement.Vault
	Credit(ctx context.Context, asset, owner common.Address, amount decimal.Decimal) error
	Balance(ctx context.Context, asset, owner common.Address) (decimal.Decimal, error)
}

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Store and custody ---
	var (
		st  store.Store
		vlt custody
	)
	if cfg.Database.DSN != "" {
		pool, err := store.NewPool(ctx, store.PoolConfig{
			DSN:      cfg.Database.DSN,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		if cfg.Database.RunMigrations {
			if err := store.RunMigrations(ctx, pool); err != nil {
				slog.Error("migrations failed", "err", err)
				os.Exit(1)
			}
		}
		st = store.NewPostgresStore(pool)
		vlt = vault.NewPostgresVault(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("database dsn not set, using in-memory store and vault (data will not persist)")
		st = store.NewMemoryStore()
		vlt = vault.NewMemoryVault()
	}

	// --- Events ---
	hub := notify.NewWSHub()
	publishers := notify.Fanout{metrics.Recorder{}, notify.LogPublisher{Logger: logger}}

	var (
		rdb   *redis.Client
		relay *notify.RedisPublisher
	)
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("redis connection failed", "addr", cfg.Redis.Addr, "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { rdb.Close() })

		if cfg.Database.DSN != "" {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
		}
		// Every replica relays the shared channel into its own hub.
		relay = notify.NewRedisPublisher(rdb, cfg.Redis.Channel)
		publishers = append(publishers, relay)
		slog.Info("Redis enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	} else {
		publishers = append(publishers, hub)
	}

	if cfg.AMQP.URL != "" {
		amqpPub, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			slog.Error("amqp connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { amqpPub.Close() })
		publishers = append(publishers, amqpPub)
		slog.Info("AMQP publishing enabled", "exchange", cfg.AMQP.Exchange)
	}

	// --- Oracle ---
	var dial oracle.DialFunc
	if cfg.Oracle.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, cfg.Oracle.RPCURL)
		if err != nil {
			slog.Error("oracle rpc connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, client.Close)
		dial = oracle.ChainlinkDialer(client)
		slog.Info("oracle rpc connected")
	} else {
		slog.Warn("oracle rpc url not set, automatic resolution is unavailable")
	}
	resolver := oracle.NewResolver(oracle.NewRegistry(dial))

	// --- Engine ---
	opts := []settlement.Option{
		settlement.WithPublisher(publishers),
		settlement.WithLogger(logger),
		settlement.WithEmergencyGrace(cfg.Settlement.EmergencyGrace.Duration),
		settlement.WithSweepDormancy(cfg.Settlement.SweepDormancy.Duration),
	}
	if rdb != nil {
		opts = append(opts, settlement.WithLocker(store.NewRedisLocker(rdb, "settlement:lock:"), cfg.Redis.LockTTL.Duration))
	}
	engine := settlement.New(st, vlt, resolver, opts...)

	settings, err := engine.Bootstrap(ctx, model.Settings{
		Owner:       cfg.Settlement.OwnerAddress(),
		Treasury:    cfg.Settlement.TreasuryAddress(),
		FeeBps:      cfg.Settlement.FeeBps,
		ReferralBps: cfg.Settlement.ReferralBps,
	})
	if err != nil {
		slog.Error("settings bootstrap failed", "err", err)
		os.Exit(1)
	}
	slog.Info("settlement engine ready",
		"owner", settings.Owner.Hex(),
		"treasury", settings.Treasury.Hex(),
		"fee_bps", settings.FeeBps,
		"referral_bps", settings.ReferralBps,
		"markets", settings.MarketCount,
	)

	kp := keeper.New(engine, keeper.Windows{
		EmergencyGrace: cfg.Settlement.EmergencyGrace.Duration,
		SweepDormancy:  cfg.Settlement.SweepDormancy.Duration,
	}, cfg.Keeper.Interval.Duration, logger)

	// --- HTTP router ---
	handler := api.NewHandler(engine, vlt)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key", api.CallerHeader},
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived, so outside the request timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			handler.Mount(r, cfg.Server.APIKey)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("settlement-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return kp.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Relay(gctx, hub) })
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down settlement-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("settlement-engine exited with error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}
