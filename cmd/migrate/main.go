package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/migrate"
	"officeadmin.org/internal/obs"
	"officeadmin.org/internal/seed"
	"officeadmin.org/internal/siteconfig"
	"officeadmin.org/internal/store/pg"
	"officeadmin.org/migrations"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("PG_DSN"), "PostgreSQL DSN")
		logFormat = flag.String("log-format", "text", "log format: json or text")
		adminPass = flag.String("admin-password", os.Getenv("SEED_ADMIN_PASSWORD"), "password for a newly seeded admin user")
	)
	flag.Parse()

	logger := obs.NewLogger(os.Stderr, *logFormat, "info")
	obs.SetLogger(logger)

	if *dsn == "" {
		fail(logger, "missing DSN: provide via -dsn or PG_DSN", nil)
	}
	if len(flag.Args()) == 0 {
		fail(logger, "usage: migrate [up|down|status|seed]", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		fail(logger, "open db", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), migrations.FS)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			fail(logger, "migrate up", err)
		}
		logger.Info("migrations applied", slog.Int("count", len(applied)), slog.Any("names", applied))
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			fail(logger, "migrate down", err)
		}
		logger.Info("migration rolled back", slog.String("name", name))
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			fail(logger, "migrate status", err)
		}
		pending, err := mgr.Pending(ctx)
		if err != nil {
			fail(logger, "migrate status", err)
		}
		for _, item := range history {
			fmt.Println("applied ", item)
		}
		for _, item := range pending {
			fmt.Println("pending ", item)
		}
	case "seed":
		rbac, err := auth.NewRBACService(store, auth.NewArgon2Hasher(auth.DefaultArgon2Params))
		if err != nil {
			fail(logger, "seed", err)
		}
		configs, err := siteconfig.NewService(store, siteconfig.WithLogger(logger))
		if err != nil {
			fail(logger, "seed", err)
		}
		if _, err := seed.Run(ctx, rbac, configs, seed.Options{AdminPassword: *adminPass, Logger: logger}); err != nil {
			fail(logger, "seed", err)
		}
	default:
		fail(logger, fmt.Sprintf("unknown command %q", cmd), nil)
	}
}

func fail(logger *slog.Logger, msg string, err error) {
	if err != nil {
		logger.Error(msg, slog.Any("error", err))
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}
