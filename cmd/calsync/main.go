// Calsync keeps a local event database in step with a CalDAV account. It
// periodically re-fetches the events of every selected calendar and applies
// the minimal set of inserts, updates, and deletions to the local store.
//
// Usage:
//
//	calsync sync-once [--config <path>]  # single sync pass then exit
//	calsync daemon [--config <path>]     # run on the configured schedule
//	calsync status                       # show config & database state
//	calsync version                      # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jotkit/calsync/internal/caldav"
	"github.com/jotkit/calsync/internal/config"
	"github.com/jotkit/calsync/internal/store"
	syncp "github.com/jotkit/calsync/internal/sync"
	"github.com/jotkit/calsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "daemon":
		return runSync(os.Args[2:], true)
	case "status":
		return runStatus()
	case "version":
		fmt.Println("calsync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'calsync' for usage", cmd)
	}
}

func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "calsync — sync CalDAV calendars into a local event database")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  calsync sync-once [--config ...]  Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  calsync daemon [--config ...]     Run on the configured schedule")
	fmt.Fprintln(os.Stderr, "  calsync status                    Show config & database state")
	fmt.Fprintln(os.Stderr, "  calsync version                   Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found. Create one at %s to get started.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "sync-once" and "daemon".
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// runStatus prints the current configuration and database state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("Calsync Status")
	fmt.Println("──────────────")

	dbPath, _ := store.DefaultDBPath()
	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:    %s ✓\n", cfgPath)
			fmt.Printf("  Server:    %s\n", cfg.ServerURL)
			fmt.Printf("  Calendars: %d selected\n", len(cfg.Calendars))
			fmt.Printf("  Schedule:  %s\n", cfg.SyncSchedule)
			if cfg.DBPath != "" {
				dbPath = cfg.DBPath
			}
		} else {
			fmt.Printf("  Config:    %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:    not found (%s)\n", cfgPath)
	}

	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  Events DB: %s (%s)\n", dbPath, humanSize(info.Size()))
		if st, err := store.Open(dbPath); err == nil {
			defer func() { _ = st.Close() }()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if n, err := st.CountEvents(ctx); err == nil {
				fmt.Printf("  Events:    %d stored\n", n)
			}
		}
	} else {
		fmt.Println("  Events DB: not found")
	}

	return nil
}

// --- Sync core ---------------------------------------------------------------

// startSync is the shared implementation for daemon and sync-once modes.
func startSync(cfgPath string, verbose, daemon bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"server_url", cfg.ServerURL,
		"calendars", len(cfg.Calendars),
		"schedule", cfg.SyncSchedule,
	)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("resolving timezone: %w", err)
	}

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Events DB -----------------------------------------------------------

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolving events DB path: %w", err)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening events DB at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("closing events DB", "error", closeErr)
		}
	}()
	logger.Info("events DB opened", "path", dbPath)

	// --- CalDAV source -------------------------------------------------------

	source, err := caldav.NewSource(cfg.ServerURL, cfg.Username, cfg.Password, cfg.UserEmail, loc, logger)
	if err != nil {
		return fmt.Errorf("initialising CalDAV client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Calendar selection --------------------------------------------------

	bootstrap := syncp.NewBootstrap(source, st, cfg.Calendars, logger, os.Stdout)
	if err := bootstrap.Run(ctx); err != nil {
		return fmt.Errorf("calendar selection: %w", err)
	}

	// --- Sync engine ---------------------------------------------------------

	fetcher := syncp.NewFetcher(source, cfg.FetchTimeout, logger)
	window := syncp.Window{Past: cfg.Window.Past, Future: cfg.Window.Future}
	engine := syncp.NewEngine(fetcher, st, window, cfg.UserEmail, loc, logger)

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single sync pass")
		stats, err := engine.RunOnce(ctx)
		logger.Info("sync complete",
			"added", stats.Added,
			"updated", stats.Updated,
			"deleted", stats.Deleted,
		)
		return err
	}

	logger.Info("daemon starting", "schedule", cfg.SyncSchedule)
	if err := engine.Run(ctx, cfg.SyncSchedule); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
