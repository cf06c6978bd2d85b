// Marksync keeps a boater's favorite tide stations, current stations, nav
// units, weather locations, and routes in sync between the local database
// and a Supabase backend shared across their devices.
//
// Usage:
//
//	marksync setup                            # interactive first-run wizard
//	marksync daemon [--config <path>]         # realtime listener + periodic sync
//	marksync sync-once [--config <path>]      # single reconcile pass then exit
//	marksync toggle <type> <station> [flags]  # flip a favorite locally and sync
//	marksync status                           # show config, session, and DB state
//	marksync version                          # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/harborlight/marksync/internal/config"
	"github.com/harborlight/marksync/internal/identity"
	"github.com/harborlight/marksync/internal/model"
	"github.com/harborlight/marksync/internal/session"
	"github.com/harborlight/marksync/internal/setup"
	"github.com/harborlight/marksync/internal/state"
	"github.com/harborlight/marksync/internal/supabase"
	syncp "github.com/harborlight/marksync/internal/sync"
	"github.com/harborlight/marksync/internal/telemetry"
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
	case "setup":
		return runSetup()
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "toggle":
		return runToggle(os.Args[2:])
	case "status":
		return runStatus()
	case "version":
		fmt.Println("marksync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q; run 'marksync' for usage", cmd)
	}
}

// printUsage shows help and suggests setup if no config exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "marksync — sync marine favorites across devices")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  marksync setup                            Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  marksync daemon [--config ...]            Realtime listener + periodic sync")
	fmt.Fprintln(os.Stderr, "  marksync sync-once [--config ...]         Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  marksync toggle <type> <station> [flags]  Flip a favorite locally and sync")
	fmt.Fprintln(os.Stderr, "  marksync status                           Show config, session, and DB state")
	fmt.Fprintln(os.Stderr, "  marksync version                          Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, "No config file found. Run 'marksync setup' to get started.")
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runSetup launches the interactive setup wizard.
func runSetup() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	wiz := setup.NewWizard(os.Stdin, os.Stdout, logger)
	return wiz.Run(ctx)
}

// runSync handles both "daemon" and "sync-once" subcommands.
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

// runToggle flips a favorite flag locally and triggers a debounced sync.
func runToggle(args []string) error {
	fs := flag.NewFlagSet("toggle", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	depthBin := fs.String("depth-bin", "", "depth bin for current stations (required for type current_station)")
	off := fs.Bool("off", false, "remove the favorite instead of adding it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: marksync toggle <type> <station-id> [--depth-bin N] [--off]")
	}

	entityType := model.EntityType(fs.Arg(0))
	if !entityType.Valid() {
		return fmt.Errorf("unknown entity type %q (one of: %v)", fs.Arg(0), model.AllEntityTypes())
	}
	stationID := fs.Arg(1)
	if entityType == model.EntityCurrentStation && *depthBin == "" {
		return fmt.Errorf("current stations need --depth-bin to identify the measurement depth")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	app, err := buildApp(*cfgPath, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	owner, err := app.session.CurrentOwnerID(ctx)
	if err != nil {
		return fmt.Errorf("not signed in: %w", err)
	}

	err = app.store.SetFavorite(ctx, owner, entityType, stationID, *depthBin, !*off, app.deviceID)
	if err != nil {
		return fmt.Errorf("toggling favorite: %w", err)
	}

	verb := "added"
	if *off {
		verb = "removed"
	}
	fmt.Printf("Favorite %s: %s %s\n", verb, entityType, stationID)

	// Push the change immediately; a toggle from the CLI has no UI to
	// debounce behind.
	rep, started := app.scheduler.TriggerManualSync(ctx)
	if !started {
		fmt.Println("Sync already in progress; the change will go up with it.")
		return nil
	}
	printReport(rep)
	if rep.Status == syncp.StatusFailure {
		return rep.Err
	}
	return nil
}

// runStatus prints the current configuration, session, and database state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()
	dbPath, _ := state.DefaultDBPath()
	sessPath, _ := session.DefaultSessionPath()

	fmt.Println("marksync status")
	fmt.Println("───────────────")

	// Config state.
	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		var loadErr error
		if cfg, loadErr = config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:     %s ✓\n", cfgPath)
			fmt.Printf("  Supabase:   %s\n", cfg.SupabaseURL)
			policy := cfg.ConflictPolicy
			if policy == "" {
				policy = "remote-wins"
			}
			fmt.Printf("  Conflicts:  %s\n", policy)
			fmt.Printf("  Interval:   %s\n", cfg.SyncInterval)
		} else {
			fmt.Printf("  Config:     %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:     not found (%s)\n", cfgPath)
	}

	// Session state.
	provider := session.NewProvider(sessPath)
	if owner, err := provider.CurrentOwnerID(context.Background()); err == nil {
		fmt.Printf("  Session:    signed in as %s\n", owner)
	} else {
		fmt.Printf("  Session:    not signed in (%v)\n", err)
	}

	// State DB.
	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  Local DB:   %s (%s)\n", dbPath, humanSize(info.Size()))
	} else {
		fmt.Printf("  Local DB:   not found\n")
	}

	return nil
}

// --- Sync core ---------------------------------------------------------------

// app bundles the wired components shared by the sync subcommands.
type app struct {
	cfg       *config.Config
	store     *state.Store
	remote    *supabase.Adapter
	session   *session.Provider
	scheduler *syncp.Scheduler
	listener  *supabase.Listener
	deviceID  string
}

func (a *app) close(logger *slog.Logger) {
	a.scheduler.Close()
	if err := a.store.Close(); err != nil {
		logger.Error("closing local DB", "error", err)
	}
}

// buildApp loads config and wires store, adapters, engine, and scheduler.
func buildApp(cfgPath string, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}

	dbPath, err := state.DefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("resolving local DB path: %w", err)
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening local DB at %q: %w", dbPath, err)
	}

	deviceID, err := state.DeviceID(filepath.Dir(dbPath))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("resolving device id: %w", err)
	}

	sessPath, err := session.DefaultSessionPath()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("resolving session path: %w", err)
	}
	sess := session.NewProvider(sessPath)

	remote := supabase.NewAdapter(cfg.SupabaseURL, cfg.SupabaseKey, sess, logger)

	resolver, err := syncp.ResolverForPolicy(cfg.ConflictPolicy)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	reconciler := syncp.NewReconciler(store, remote, sess, identity.DefaultRegistry(), resolver, cfg.ApplyConcurrency, logger)
	engine := syncp.NewEngine(reconciler, logger)
	scheduler := syncp.NewScheduler(engine, sess, cfg.ViewThrottle, cfg.ToggleDebounce, logger)
	listener := supabase.NewListener(cfg.SupabaseURL, cfg.SupabaseKey, sess, logger)

	return &app{
		cfg:       cfg,
		store:     store,
		remote:    remote,
		session:   sess,
		scheduler: scheduler,
		listener:  listener,
		deviceID:  deviceID,
	}, nil
}

// startSync is the shared implementation for daemon and sync-once modes.
func startSync(cfgPath string, verbose, daemon bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	app, err := buildApp(cfgPath, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	logger.Info("config loaded",
		"supabase_url", app.cfg.SupabaseURL,
		"conflict_policy", app.cfg.ConflictPolicy,
		"sync_interval", app.cfg.SyncInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if app.cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint:   app.cfg.Telemetry.OTLPEndpoint,
			Insecure:       app.cfg.Telemetry.Insecure,
			ServiceName:    app.cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        app.cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", app.cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Preflight -----------------------------------------------------------

	owner, err := app.session.CurrentOwnerID(ctx)
	if err != nil {
		return fmt.Errorf("not signed in: %w\n\nRun 'marksync setup' to sign in", err)
	}
	logger.Info("session valid", "owner", owner, "device", app.deviceID)

	logger.Info("pinging Supabase", "url", app.cfg.SupabaseURL)
	if err := app.remote.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to Supabase at %q: %w\n\nCheck supabase_url and supabase_key in your config file", app.cfg.SupabaseURL, err)
	}
	logger.Info("Supabase reachable")

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single sync pass")
		rep, started := app.scheduler.TriggerManualSync(ctx)
		if !started {
			return fmt.Errorf("a sync pass is already in progress")
		}
		printReport(rep)
		if rep.Status == syncp.StatusFailure {
			return rep.Err
		}
		return nil
	}

	logger.Info("daemon starting", "sync_interval", app.cfg.SyncInterval)
	if err := runDaemon(ctx, app, logger); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// runDaemon runs the realtime listener plus a periodic fallback ticker. Both
// feed the scheduler, so admission control stays in one place.
func runDaemon(ctx context.Context, app *app, logger *slog.Logger) error {
	owner, err := app.session.CurrentOwnerID(ctx)
	if err != nil {
		return err
	}

	// Initial pass so a freshly started daemon converges immediately.
	app.scheduler.TriggerAutoSync(ctx, syncp.ReasonViewAppear)

	// Realtime listener; reconnects internally until ctx is cancelled.
	listenerDone := make(chan error, 1)
	go func() {
		listenerDone <- app.listener.Run(ctx, owner, func() {
			app.scheduler.TriggerAutoSync(ctx, syncp.ReasonRemoteChange)
		})
	}()

	ticker := time.NewTicker(app.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-listenerDone:
			return fmt.Errorf("realtime listener stopped: %w", err)
		case <-ticker.C:
			logger.Debug("periodic sync tick")
			app.scheduler.TriggerAutoSync(ctx, syncp.ReasonRemoteChange)
		}
	}
}

// humanSize formats a byte count for display.
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

// printReport writes a one-pass summary to stdout.
func printReport(rep syncp.Report) {
	fmt.Printf("Sync %s in %s: %d uploaded, %d downloaded, %d conflicts resolved",
		rep.Status, rep.Duration.Round(time.Millisecond), rep.Uploaded, rep.Downloaded, rep.Resolved)
	if n := len(rep.CandidateErrors); n > 0 {
		fmt.Printf(", %d record(s) failed", n)
	}
	fmt.Println()
	for _, ce := range rep.CandidateErrors {
		fmt.Printf("  ✗ %s %s (%s during %s): %v\n", ce.Type, ce.Key, ce.Class, ce.Phase, ce.Err)
	}
	if rep.Err != nil {
		fmt.Printf("  error: %v\n", rep.Err)
	}
}
