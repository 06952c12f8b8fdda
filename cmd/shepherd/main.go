// Package main provides the entry point for the shepherd configuration
// service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shepherd-cms/shepherd/internal/config"
	"github.com/shepherd-cms/shepherd/internal/server"
	"github.com/shepherd-cms/shepherd/pkg/database"
	"github.com/shepherd-cms/shepherd/pkg/database/migrate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	migrate     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Listen address, overrides configuration")
	flag.StringVar(&opts.migrate, "migrate", "", "Run a migration command (up, down, version) and exit")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("shepherd version %s\n", server.Version)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}

	ctx := setupSignalHandler()

	if opts.migrate != "" {
		return runMigration(ctx, cfg, opts.migrate)
	}

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()

	return srv.Run(ctx)
}

// runMigration executes a single maintenance command against the
// configured database instead of starting the server.
func runMigration(ctx context.Context, cfg *config.Config, command string) error {
	if command != "up" && command != "down" && command != "version" {
		return fmt.Errorf("unknown migrate command %q, want up, down or version", command)
	}

	db, err := database.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	switch command {
	case "up":
		return migrate.Run(db)
	case "down":
		if err := migrate.Down(db); err != nil {
			return err
		}
		fmt.Println("migrations rolled back")
	case "version":
		version, dirty, err := migrate.Version(db)
		if err != nil {
			return err
		}
		if dirty {
			fmt.Printf("migration version %d (dirty)\n", version)
		} else {
			fmt.Printf("migration version %d\n", version)
		}
	}
	return nil
}
