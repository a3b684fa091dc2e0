// Command townd boots a town from its genesis and serves the HTTP API and
// the gRPC health service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"defitown.org/internal/audit"
	"defitown.org/internal/auth"
	"defitown.org/internal/chain"
	"defitown.org/internal/config"
	"defitown.org/internal/httpapi"
	"defitown.org/internal/migrate"
	"defitown.org/internal/obs"
	"defitown.org/internal/store"
	"defitown.org/internal/store/pg"
	"defitown.org/internal/store/sqlite"
	"defitown.org/internal/stream"
	"defitown.org/internal/town"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type eventStore interface {
	chain.Sink
	store.Reader
	Close() error
}

func main() {
	log := obs.Logger()
	if err := run(log); err != nil {
		log.Fatal("townd failed", zap.Error(err))
	}
	_ = log.Sync()
}

func run(log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)

	genesis, err := config.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		return err
	}
	townCfg, err := genesis.TownConfig()
	if err != nil {
		return err
	}
	creds, err := genesis.Credentials()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, err := openEvents(ctx, cfg, log)
	if err != nil {
		return err
	}
	if events != nil {
		defer events.Close()
	}

	live := stream.New()
	opts := []chain.Option{
		chain.WithSink(audit.Sink{}),
		chain.WithSink(obs.MetricsSink{}),
		chain.WithSink(live),
		chain.OnSinkError(func(s chain.Sink, err error) {
			log.Error("event sink failed", zap.String("sink", fmt.Sprintf("%T", s)), zap.Error(err))
		}),
	}
	var reader store.Reader
	if events != nil {
		opts = append(opts, chain.WithSink(events))
		reader = events
	}

	tw, err := town.Deploy(ctx, chain.New(opts...), townCfg)
	if err != nil {
		return fmt.Errorf("deploy town: %w", err)
	}
	svc := town.NewService(tw)
	log.Info("town deployed",
		zap.String("admin", townCfg.Admin.Hex()),
		zap.Int("funded_users", len(townCfg.Funding)),
		zap.String("core", town.CoreAddress.Hex()),
	)

	var issuer *auth.Issuer
	if cfg.AuthSecret != "" {
		if issuer, err = auth.NewIssuer(cfg.AuthSecret, cfg.TokenTTL); err != nil {
			return err
		}
	} else {
		log.Warn("auth disabled; callers are taken from the X-Town-Caller header")
	}

	ready := httpapi.ReadinessCheck{Town: svc, Events: reader}
	api := httpapi.New(httpapi.Options{
		Version:      version,
		Town:         svc,
		Stream:       live,
		Events:       reader,
		Issuer:       issuer,
		Credentials:  creds,
		Ready:        ready,
		RateBurst:    cfg.RateLimitBurst,
		RatePerSec:   cfg.RateLimitRPS,
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	// No write timeout: /v1/events/stream holds responses open.
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	grpcSrv := httpapi.NewGRPCServer(ready, version)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go grpcSrv.Watch(ctx, 10*time.Second)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("http shutdown", zap.Error(serr))
	}
	grpcSrv.Stop()
	log.Info("stopped")
	return err
}

// openEvents picks the event store: PostgreSQL when a DSN is set, SQLite when
// a path is set, none otherwise.
func openEvents(ctx context.Context, cfg config.Config, log *zap.Logger) (eventStore, error) {
	switch {
	case cfg.PGDSN != "":
		s, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PGMigrate {
			ran, err := migrate.NewManager(s.DB(), pg.Migrations(), nil).Up(ctx)
			if err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			if len(ran) > 0 {
				log.Info("applied migrations", zap.Strings("scripts", ran))
			}
		}
		log.Info("event store", zap.String("driver", "postgres"))
		return s, nil
	case cfg.SQLitePath != "":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("event store", zap.String("driver", "sqlite"), zap.String("path", cfg.SQLitePath))
		return s, nil
	}
	log.Warn("no event store configured; /v1/events is disabled")
	return nil, nil
}
