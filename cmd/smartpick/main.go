package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dave999999/SmartPick1-sub001/internal/auth"
	"github.com/dave999999/SmartPick1-sub001/internal/backup"
	"github.com/dave999999/SmartPick1-sub001/internal/config"
	"github.com/dave999999/SmartPick1-sub001/internal/database"
	"github.com/dave999999/SmartPick1-sub001/internal/events"
	"github.com/dave999999/SmartPick1-sub001/internal/ledger"
	"github.com/dave999999/SmartPick1-sub001/internal/logging"
	"github.com/dave999999/SmartPick1-sub001/internal/penalty"
	"github.com/dave999999/SmartPick1-sub001/internal/pickup"
	"github.com/dave999999/SmartPick1-sub001/internal/ratelimit"
	"github.com/dave999999/SmartPick1-sub001/internal/reservation"
	"github.com/dave999999/SmartPick1-sub001/internal/server"
	"github.com/dave999999/SmartPick1-sub001/internal/sweep"
	ws "github.com/dave999999/SmartPick1-sub001/internal/websocket"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "restore" {
		if err := restore(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "smartpick restore: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "smartpick: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	for _, w := range cfg.Warnings {
		logger.Warn("config", "warning", w)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(logger.With("component", "websocket"))

	// Rate limiting and pickup fan-out go through Redis when it is reachable,
	// otherwise they stay in process.
	var limiter ratelimit.Limiter
	var publisher events.Publisher
	rdb := connectRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb, "smartpick:rl:")
		publisher = events.NewRedisPublisher(rdb)
		go runRelay(ctx, events.NewRelay(rdb, hub, logger.With("component", "relay")), logger)
	} else {
		mem := ratelimit.NewMemory()
		go mem.RunCleanup(ctx, 5*time.Minute)
		limiter = mem
		publisher = events.NewHubPublisher(hub)
	}

	var notifier events.Notifier = events.NewLogNotifier(logger.With("component", "events"))
	if cfg.AMQPURL != "" {
		amqpNotifier := events.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, logger.With("component", "amqp"))
		defer amqpNotifier.Close()
		notifier = events.Multi(notifier, amqpNotifier)
	}

	ledgerSvc := ledger.NewService(db, logger.With("component", "ledger"))
	engine := penalty.NewEngine(db, ledgerSvc, notifier, logger.With("component", "penalty"))
	reservations := reservation.NewService(db, ledgerSvc, engine, notifier,
		reservation.Config{PointsPerUnit: cfg.PointsPerUnit}, logger.With("component", "reservation"))

	guardCfg := ratelimit.DefaultGuardConfig()
	guardCfg.PartnerLimit = cfg.ConfirmLimit
	guardCfg.IPLimit = cfg.ConfirmIPLimit
	guard := ratelimit.NewGuard(limiter, guardCfg, logger.With("component", "ratelimit"))
	pickups := pickup.NewService(db, ledgerSvc, guard, publisher, notifier,
		pickup.Config{BroadcastTimeout: cfg.BroadcastTimeout}, logger.With("component", "pickup"))

	sweeper := sweep.NewSweeper(db, ledgerSvc, engine, notifier, cfg.SweepBatch, logger.With("component", "sweep"))
	scheduler := sweep.NewScheduler(sweeper, cfg.SweepInterval, logger.With("component", "sweep_scheduler"))
	scheduler.Start(ctx)
	defer scheduler.Stop()

	backups := backup.NewManager(backupConfig(cfg), db, logger.With("component", "backup"))
	backups.Start(ctx)
	defer backups.Stop()

	srv := server.New(server.Deps{
		Reservations:   reservations,
		Pickups:        pickups,
		Ledger:         ledgerSvc,
		Penalties:      engine,
		Sweeper:        sweeper,
		Backups:        backups,
		Hub:            hub,
		Verifier:       auth.NewVerifier(cfg.JWTSecret),
		Limiter:        limiter,
		OriginPatterns: cfg.WSOrigins,
	}, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("smartpick listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func connectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Error("redis unavailable, using in-process rate limiting and delivery", "addr", cfg.RedisAddr, "error", err)
		rdb.Close()
		return nil
	}
	logger.Info("redis connected", "addr", cfg.RedisAddr)
	return rdb
}

// runRelay keeps the pickup relay subscribed, retrying after failures.
func runRelay(ctx context.Context, relay *events.Relay, logger *slog.Logger) {
	backoff := time.Second
	for {
		err := relay.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("pickup relay stopped, retrying", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func backupConfig(cfg *config.Config) backup.Config {
	return backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.BackupS3Endpoint,
			Bucket:    cfg.BackupS3Bucket,
			Region:    cfg.BackupS3Region,
			AccessKey: cfg.BackupS3AccessKey,
			SecretKey: cfg.BackupS3SecretKey,
		},
		Passphrase: cfg.BackupPassphrase,
		Interval:   cfg.BackupInterval,
		Retention:  cfg.BackupRetention,
	}
}

// restore fetches a snapshot into a new database file. With no key it lists
// the stored snapshots instead.
func restore(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	mgr := backup.NewManager(backupConfig(cfg), nil, logger.With("component", "backup"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(args) == 0 {
		snaps, err := mgr.List(ctx)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			fmt.Printf("%s\t%d\t%s\n", s.Key, s.Size, s.CreatedAt.Format(time.RFC3339))
		}
		return nil
	}
	if len(args) != 2 {
		return errors.New("usage: smartpick restore [<key> <target.db>]")
	}
	if err := mgr.Restore(ctx, args[0], args[1]); err != nil {
		return err
	}
	logger.Info("snapshot restored", "key", args[0], "path", args[1])
	return nil
}
