package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/config"
	"auction-engine/internal/lifecycle"
	"auction-engine/internal/notification"
	"auction-engine/internal/payment"
	"auction-engine/internal/repository"
	"auction-engine/internal/repository/postgres"
	"auction-engine/internal/server"
	"auction-engine/internal/settlement"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("Failed to load configuration", map[string]any{"error": err.Error()})
	}
	utils.ConfigureLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		utils.Fatal("Auction engine stopped with error", map[string]any{"error": err.Error()})
	}
	utils.Info("Auction engine stopped", nil)
}

func run(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher := notification.NewDispatcher(store, notification.Options{
		QueueSize:      cfg.Notifications.QueueSize,
		Workers:        cfg.Notifications.Workers,
		MaxRetries:     cfg.Notifications.MaxRetries,
		InitialBackoff: cfg.Notifications.InitialBackoff,
		MaxBackoff:     cfg.Notifications.MaxBackoff,
	})

	gateway := payment.NewSimulatedGateway(cfg.Payments.DeclineUsers, 0)
	resolver := settlement.NewResolver(store, store, gateway, dispatcher, settlement.Options{
		Currency:       cfg.Auction.Currency,
		MaxAttempts:    cfg.Payments.MaxAttempts,
		InitialBackoff: cfg.Payments.InitialBackoff,
		MaxBackoff:     cfg.Payments.MaxBackoff,
		RetryInterval:  cfg.Payments.RetryInterval,
		MaxSweeps:      cfg.Payments.MaxSweeps,
	})
	gateway.OnResult(resolver.HandleCaptureResult)

	scheduler := lifecycle.NewScheduler(store, resolver, lifecycle.Options{
		Interval:  cfg.Scheduler.Interval,
		BatchSize: cfg.Scheduler.BatchSize,
	})

	biddingSvc := bidding.NewBiddingService(store, store, dispatcher, bidding.Options{
		AllowSelfOutbid: cfg.Auction.AllowSelfOutbid,
		BidAttempts:     cfg.Auction.BidAttempts,
	})

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.SetupRouter(biddingSvc, resolver)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// the dispatcher outlives the other components so their last events are persisted
	dispatcher.Start()
	defer dispatcher.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		utils.Info("Starting auction server", map[string]any{
			"addr":   srv.Addr,
			"driver": cfg.Database.Driver,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		utils.Info("Shutting down auction server", nil)
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		return resolver.RunRetries(gctx)
	})

	err = g.Wait()
	resolver.Drain()
	return err
}

// openStore returns the configured store and a function releasing its resources
func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, func(), error) {
	if cfg.Driver != config.DriverPostgres {
		utils.Info("Using in-memory store", nil)
		return repository.NewMemoryRepo(), func() {}, nil
	}

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, cfg.DSN); err != nil {
			return nil, nil, err
		}
		utils.Info("Database migrations applied", nil)
	}

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return postgres.New(pool), pool.Close, nil
}
