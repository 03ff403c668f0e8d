package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saltyorg/chtsubs/internal/config"
	"github.com/saltyorg/chtsubs/internal/database"
	"github.com/saltyorg/chtsubs/internal/detector"
	"github.com/saltyorg/chtsubs/internal/logging"
	"github.com/saltyorg/chtsubs/internal/plex"
	"github.com/saltyorg/chtsubs/internal/scanner"
	"github.com/saltyorg/chtsubs/internal/scheduler"
	"github.com/saltyorg/chtsubs/internal/watcher"
	"github.com/saltyorg/chtsubs/internal/web"
	"github.com/saltyorg/chtsubs/internal/web/sse"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	plexURL   string
	plexToken string
	dbPath    string
	verbosity int

	// Scan flags
	fallbackStr string
	rangeDays   int
	workers     int
	force       bool
	dryRun      bool

	// Serve flags
	port          int
	bind          string
	allowSubnet   string
	watchEnabled  bool
	watchDebounce time.Duration
	cronSchedule  string
	runOnStart    bool

	// Timeout flags (advanced)
	httpTimeout time.Duration
	itemTimeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chtsubs",
		Short: "chtsubs - Traditional Chinese subtitle selector for Plex",
		Long:  `chtsubs scans a Plex library and sets the Traditional Chinese subtitle track as the default for every movie and episode.`,
		RunE:  runScan,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&plexURL, "plex-url", "u", "", "Plex server URL (or set PLEX_URL env var)")
	pf.StringVarP(&plexToken, "plex-token", "t", "", "Plex authentication token (or set PLEX_TOKEN env var)")
	pf.StringVarP(&dbPath, "db", "d", "./chtsubs.db", "SQLite database path (or set DB_PATH env var)")
	pf.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	pf.DurationVar(&httpTimeout, "http-timeout", 30*time.Second, "Timeout for HTTP requests to the Plex server")
	pf.DurationVar(&itemTimeout, "item-timeout", 60*time.Second, "Timeout for processing a single media item")

	pf.StringVarP(&fallbackStr, "fallback", "f", "skip", "Strategy when no CHT subtitle exists (skip, english, chs, none)")
	pf.IntVarP(&rangeDays, "range", "r", 0, "Only scan items added or updated in the last N days (0 scans everything)")
	pf.IntVarP(&workers, "workers", "w", scanner.DefaultWorkers, "Number of concurrent item workers")
	pf.BoolVar(&force, "force", false, "Re-apply the selection even when a subtitle is already set")
	pf.BoolVarP(&dryRun, "dry-run", "n", false, "Report what would change without modifying anything")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run as a service with the HTTP API, change watcher and scheduler",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (required, or set PORT env var)")
	serveCmd.Flags().StringVarP(&bind, "bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")
	serveCmd.Flags().StringVarP(&allowSubnet, "allow-subnet", "a", "", "CIDR subnet allowed to connect (e.g., 192.168.1.0/24)")
	serveCmd.Flags().BoolVar(&watchEnabled, "watch", false, "Watch Plex for new media and scan it automatically")
	serveCmd.Flags().DurationVar(&watchDebounce, "watch-debounce", watcher.DefaultDebounce, "Quiet period before a batch of changed items is scanned")
	serveCmd.Flags().StringVar(&cronSchedule, "cron", "", "Cron expression for scheduled scans (e.g., \"0 3 * * *\")")
	serveCmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "Run a scan immediately when the service starts")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chtsubs %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveEnv fills flag values from the environment and validates the
// connection settings shared by every mode.
func resolveEnv() error {
	if plexURL == "" {
		plexURL = os.Getenv("PLEX_URL")
	}
	if plexToken == "" {
		plexToken = os.Getenv("PLEX_TOKEN")
	}
	if dbPath == "./chtsubs.db" {
		if envDB := os.Getenv("DB_PATH"); envDB != "" {
			dbPath = envDB
		}
	}

	if plexURL == "" {
		return fmt.Errorf("--plex-url flag or PLEX_URL environment variable is required")
	}
	if plexToken == "" {
		return fmt.Errorf("--plex-token flag or PLEX_TOKEN environment variable is required")
	}
	return nil
}

func setup() (*database.DB, *plex.Client, error) {
	setupLogging(verbosity)

	config.SetGlobalTimeouts(&config.TimeoutConfig{
		HTTPClient:    httpTimeout,
		ItemOperation: itemTimeout,
	})

	db, err := database.New(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	if err := db.InitializeDefaults(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize default settings: %w", err)
	}

	loader := config.NewLoader(db)
	level := loader.String("log.level", "info")
	// Verbosity flags outrank the stored level.
	switch {
	case verbosity == 1:
		level = "debug"
	case verbosity >= 2:
		level = "trace"
	}
	logging.Apply(level, loader, logging.FilePathForDB(dbPath))

	return db, plex.NewClient(plexURL, plexToken), nil
}

func scanOptions(loader *config.Loader) (scanner.Options, error) {
	fb, err := detector.ParseFallback(fallbackStr)
	if err != nil {
		return scanner.Options{}, err
	}

	opts := scanner.Options{
		RangeDays: rangeDays,
		Fallback:  fb,
		Force:     force,
		DryRun:    dryRun,
		Workers:   workers,
	}

	// Database settings back the flags that were left at their defaults.
	if fallbackStr == "skip" {
		if fb, err := detector.ParseFallback(loader.String("scan.fallback", "skip")); err == nil {
			opts.Fallback = fb
		}
	}
	if rangeDays == 0 {
		opts.RangeDays = loader.Int("scan.range_days", 0)
	}
	if workers == scanner.DefaultWorkers {
		opts.Workers = loader.Int("scan.workers", scanner.DefaultWorkers)
	}
	if !force {
		opts.Force = loader.Bool("scan.force_overwrite", false)
	}
	return opts, nil
}

// runScan performs a one-shot library scan and exits.
func runScan(cmd *cobra.Command, args []string) error {
	if err := resolveEnv(); err != nil {
		return err
	}

	db, client, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.TestConnection(ctx); err != nil {
		return fmt.Errorf("failed to connect to Plex: %w", err)
	}

	opts, err := scanOptions(config.NewLoader(db))
	if err != nil {
		return err
	}
	opts.TriggeredBy = "manual"

	result, err := scanner.New(client, db).RunScan(ctx, opts)
	if err != nil {
		return err
	}
	if result.Stats.Errors > 0 {
		return fmt.Errorf("scan finished with %d errors", result.Stats.Errors)
	}
	return nil
}

// watchScanTimeout bounds a watch-triggered scan, including any time it
// spends queued behind another run.
const watchScanTimeout = 2 * time.Hour

// runServe runs the long-lived service: HTTP API plus the optional change
// watcher and cron scheduler.
func runServe(cmd *cobra.Command, args []string) error {
	if err := resolveEnv(); err != nil {
		return err
	}

	if port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			if _, err := fmt.Sscanf(envPort, "%d", &port); err != nil {
				return fmt.Errorf("invalid PORT environment variable %q: %w", envPort, err)
			}
		}
	}
	if port == 0 {
		return fmt.Errorf("--port flag or PORT environment variable is required")
	}
	if bind != "" {
		if ip := net.ParseIP(bind); ip == nil {
			return fmt.Errorf("invalid bind address: %s", bind)
		}
	}

	var allowedNet *net.IPNet
	if allowSubnet != "" {
		_, parsedNet, err := net.ParseCIDR(allowSubnet)
		if err != nil {
			return fmt.Errorf("invalid allow-subnet CIDR: %s", allowSubnet)
		}
		allowedNet = parsedNet
	}

	db, client, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	loader := config.NewLoader(db)

	if (bind == "" || bind == "0.0.0.0" || bind == "::") && allowSubnet == "" {
		log.Warn().Msg("Server is accessible from all interfaces without subnet restrictions. Consider using --bind or --allow-subnet for security.")
	}

	log.Info().
		Str("version", version).
		Str("plex_url", plexURL).
		Int("port", port).
		Str("database", dbPath).
		Bool("watch", watchEnabled).
		Str("cron", cronSchedule).
		Msg("Starting chtsubs")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.TestConnection(ctx); err != nil {
		return fmt.Errorf("failed to connect to Plex: %w", err)
	}

	baseOpts, err := scanOptions(loader)
	if err != nil {
		return err
	}
	sc := scanner.New(client, db)

	var authUser, authPass string
	if loader.Bool("web.auth.enabled", false) {
		authUser = loader.String("web.auth.username", "")
		authPass = loader.String("web.auth.password", "")
	}

	server := web.NewServer(db, sc, web.Config{
		Port:         port,
		Bind:         bind,
		AllowedNet:   allowedNet,
		AuthUsername: authUser,
		AuthPassword: authPass,
		Version:      version,
		ScanOpts:     func() scanner.Options { return baseOpts },
	})
	broker := server.SSEBroker()
	sc.SetItemHook(func(item scanner.ItemResult) {
		switch item.Outcome {
		case scanner.OutcomeChanged, scanner.OutcomeDisabled:
			broker.Broadcast(sse.Event{Type: sse.EventSubtitleChanged, Data: item})
		}
	})

	// Cron scheduler. The flag takes precedence; otherwise the stored
	// schedule settings apply.
	schedule := cronSchedule
	scheduleEnabled := schedule != ""
	if !scheduleEnabled && loader.Bool("schedule.enabled", false) {
		schedule = loader.String("schedule.cron", "")
		scheduleEnabled = schedule != ""
	}
	sched := scheduler.NewManager(sc, db, scheduler.Config{
		Enabled:     scheduleEnabled,
		Schedule:    schedule,
		RunOnStart:  runOnStart || loader.Bool("schedule.run_on_start", false),
		ScanOpts:    baseOpts,
		HistoryKeep: time.Duration(loader.Int("scan.history_keep_days", 90)) * 24 * time.Hour,
	})
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()
	server.SetScheduler(sched)

	// Change watcher.
	if watchEnabled || loader.Bool("watch.enabled", false) {
		debounce := watchDebounce
		if !cmd.Flags().Changed("watch-debounce") {
			debounce = loader.DurationSeconds("watch.debounce_seconds", int(watcher.DefaultDebounce/time.Second))
		}

		wopts := watcher.Options{
			Debounce: debounce,
			OnStateChange: func(from, to watcher.State) {
				switch {
				case to == watcher.StateConnected:
					broker.Broadcast(sse.Event{Type: sse.EventWatchConnected, Data: nil})
				case from == watcher.StateConnected:
					broker.Broadcast(sse.Event{Type: sse.EventWatchDisconnected, Data: map[string]any{
						"state": string(to),
					}})
				}
			},
		}
		w := watcher.New(client, wopts, func(itemIDs []int) {
			broker.Broadcast(sse.Event{Type: sse.EventWatchBatch, Data: map[string]any{
				"item_ids": itemIDs,
			}})

			opts := baseOpts
			opts.ItemIDs = itemIDs
			opts.TriggeredBy = "watch"

			// Batches queue behind any running scan rather than being
			// dropped, so the timeout covers the wait too.
			scanCtx, cancel := context.WithTimeout(context.Background(), watchScanTimeout)
			defer cancel()

			if _, err := sc.RunScanWait(scanCtx, opts); err != nil {
				log.Error().Err(err).Ints("item_ids", itemIDs).Msg("Watch-triggered scan failed")
			}
		})
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
		server.SetWatcher(w)
	}

	if err := server.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("chtsubs stopped")
	return nil
}

func setupLogging(verbosity int) {
	// Pretty console output
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}

	switch verbosity {
	case 0:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case 1:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default: // 2+
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}
