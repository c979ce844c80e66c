package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/webtm/webtm-go/internal/api"
	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/events"
	"github.com/webtm/webtm-go/internal/logging"
	"github.com/webtm/webtm-go/internal/spider"
	"github.com/webtm/webtm-go/internal/store"
	"github.com/webtm/webtm-go/internal/tiebainfo"
	"github.com/webtm/webtm-go/internal/users"
	"github.com/webtm/webtm-go/internal/websocket"
	"github.com/webtm/webtm-go/pkg/tieba"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "webtm",
	Short:   "WebTM - Tieba auto-moderation engine",
	Long:    `WebTM watches configured Tieba forums, runs every new thread, post and comment through per-user rule sets, and executes or queues the resulting moderation operations.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("WebTM %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup lines; re-initialized from config
	// below.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "webtm",
	})

	dataDir := config.DataDir()
	cfg, err := config.Load(dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:     cfg.Log.Format,
		Level:      cfg.Log.Level,
		Component:  "webtm",
		FilePath:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logging.Shutdown()

	log.Info().Str("version", Version).Str("data_dir", dataDir).Msg("Starting WebTM")

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persist := config.NewPersistence(dataDir)
	ctrl := events.NewController(cfg, persist)

	// Anonymous upstream clients: the spider and profile lookups never
	// carry moderator cookies.
	client := tieba.NewClient(tieba.ClientConfig{})
	browser := tieba.NewBrowser(tieba.BrowserConfig{
		DiagnosticsDir: filepath.Join(dataDir, "diagnostics"),
	})
	info := tiebainfo.New(client, browser, st)

	manager := users.NewManager(ctrl, persist, st, info, dataDir)
	manager.Bind()
	manager.Load()

	sp := spider.New(spider.NewUpstream(client, browser), st, cfg.Scan)
	crawler := spider.NewCrawler(sp, st, ctrl, manager)
	crawler.Bind()

	bindSystemListeners(ctrl, st, info)

	g, gctx := errgroup.WithContext(ctx)

	cleaner := events.NewCacheCleaner(ctrl.Bus, func() string {
		return ctrl.Config().Cache.CleanupTime
	})
	g.Go(func() error {
		cleaner.Run(gctx)
		return nil
	})

	hub := websocket.NewHub(func() []websocket.Message {
		return []websocket.Message{
			{Type: "history", Data: logging.GetBroadcaster().History()},
			{Type: "status", Data: map[string]any{"running": ctrl.Running()}},
		}
	}, cfg.Server.AllowedOrigins)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	feedHub(gctx, ctrl, hub)

	startMetricsServer(gctx, cfg.Server.MetricsAddr)

	watcher, err := config.NewWatcher(dataDir, func(newCfg *config.SystemConfig) {
		if _, err := ctrl.UpdateConfig(context.Background(), newCfg); err != nil {
			log.Error().Err(err).Msg("Failed to apply edited config file")
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher, file edits will require restart")
	} else {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
		defer watcher.Stop()
	}

	srv := api.NewServer(ctrl, manager, hub)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	groupErr := make(chan error, 1)
	go func() { groupErr <- g.Wait() }()

	ctrl.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	running := true
	for running {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, reloading configuration")
			reloaded, err := config.Load(dataDir)
			if err != nil {
				log.Error().Err(err).Msg("Failed to reload configuration")
				continue
			}
			if _, err := ctrl.UpdateConfig(ctx, reloaded); err != nil {
				log.Error().Err(err).Msg("Failed to apply reloaded configuration")
			}

		case <-sigChan:
			log.Info().Msg("Shutting down")
			running = false

		case err := <-groupErr:
			log.Fatal().Err(err).Msg("Server task failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	ctrl.Stop(shutdownCtx)
	cancel()
	select {
	case <-groupErr:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Background tasks did not shut down in time")
	}

	log.Info().Msg("Stopped")
}

// bindSystemListeners wires the cross-cutting reactions that have no
// better home: cache sweeps and config-change side effects.
func bindSystemListeners(ctrl *events.Controller, st *store.Store, info *tiebainfo.Service) {
	ctrl.Bus.ClearCache.On(func(ctx context.Context, _ time.Time) error {
		ttl := time.Duration(ctrl.Config().Cache.PidExpire) * time.Second
		n, err := st.SweepExpiredContent(ctx, ttl)
		if err != nil {
			return err
		}
		info.Purge()
		log.Info().Int64("rows", n).Msg("Swept expired content cache")
		return nil
	})

	ctrl.Bus.SystemConfigChange.On(func(_ context.Context, change events.ConfigChange) error {
		if change.Old.Log.Level != change.New.Log.Level {
			logging.SetGlobalLevel(change.New.Log.Level)
		}
		if change.Old.Database != change.New.Database {
			log.Warn().Msg("Database configuration changed, restart required to take effect")
		}
		if change.Old.Server.ListenAddr != change.New.Server.ListenAddr ||
			change.Old.Server.MetricsAddr != change.New.Server.MetricsAddr {
			log.Warn().Msg("Listen address changed, restart required to take effect")
		}
		return nil
	})
}
