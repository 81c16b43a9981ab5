package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/config"
	"officeadmin.org/internal/httpapi"
	"officeadmin.org/internal/migrate"
	"officeadmin.org/internal/obs"
	"officeadmin.org/internal/seed"
	"officeadmin.org/internal/siteconfig"
	"officeadmin.org/internal/store/memory"
	"officeadmin.org/internal/store/pg"
	"officeadmin.org/internal/upload"
	"officeadmin.org/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backingStore is what the services need from either store implementation.
type backingStore interface {
	auth.RBACStore
	siteconfig.Store
}

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("officeadmin-api stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store   backingStore
		probe   httpapi.ReadyProbe
		runSeed = cfg.SeedOnStart
	)
	if cfg.UsesMemoryStore() {
		logger.Warn("PG_DSN not set, using in-memory store; data is lost on restart")
		store = memory.New()
		runSeed = true
	} else {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		if err := pgStore.Ping(ctx); err != nil {
			return err
		}
		applied, err := migrate.NewManager(pgStore.DB(), migrations.FS).Up(ctx)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", slog.Any("names", applied))
		}
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	}

	hasher := auth.NewArgon2Hasher(auth.DefaultArgon2Params)
	codec, err := auth.NewCodec([]byte(cfg.JWTSecret),
		auth.WithTokenTTL(cfg.JWTExpiresIn),
		auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionAuthority(store, codec, hasher)
	if err != nil {
		return err
	}
	engine, err := auth.NewEngine(store)
	if err != nil {
		return err
	}
	gate, err := auth.NewGate(codec, sessions, engine)
	if err != nil {
		return err
	}
	rbac, err := auth.NewRBACService(store, hasher)
	if err != nil {
		return err
	}

	configOpts := []siteconfig.Option{siteconfig.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		client, err := siteconfig.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		configOpts = append(configOpts, siteconfig.WithCache(siteconfig.NewRedisCache(client, 5*time.Minute)))
	}
	configs, err := siteconfig.NewService(store, configOpts...)
	if err != nil {
		return err
	}
	uploads, err := upload.NewService(cfg.UploadDir)
	if err != nil {
		return err
	}

	if runSeed {
		if _, err := seed.Run(ctx, rbac, configs, seed.Options{Logger: logger}); err != nil {
			return err
		}
	}

	api, err := httpapi.New(httpapi.Options{
		Version:     version,
		Probe:       probe,
		Gate:        gate,
		Sessions:    sessions,
		RBAC:        rbac,
		Config:      configs,
		Uploads:     uploads,
		CORSOrigins: cfg.CORSOrigins,
		Development: !cfg.IsProduction(),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", slog.String("addr", srv.Addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		var hs *health.Server
		grpcSrv, hs = httpapi.NewGRPCServer(httpapi.NewGRPCGate(gate, httpapi.DefaultGRPCPolicies))
		if err := httpapi.SyncHealth(ctx, probe, hs); err != nil {
			logger.Warn("grpc health not serving", slog.Any("error", err))
		}
		defer hs.Shutdown()
		go func() {
			logger.Info("grpc listening", slog.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
