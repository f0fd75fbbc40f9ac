// Package main provides the recoguard server binary.
// The server governs recommendation lists over HTTP and keeps the monitoring
// window, threshold reloads and durable sinks running alongside.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/recoguard/recoguard/internal/bus"
	"github.com/recoguard/recoguard/internal/config"
	"github.com/recoguard/recoguard/internal/fallback"
	"github.com/recoguard/recoguard/internal/governance"
	"github.com/recoguard/recoguard/internal/metrics"
	"github.com/recoguard/recoguard/internal/monitor"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/pkg/middleware"
	"github.com/recoguard/recoguard/internal/pkg/security"
	"github.com/recoguard/recoguard/internal/quality"
	"github.com/recoguard/recoguard/internal/reco"
	"github.com/recoguard/recoguard/internal/server"
	"github.com/recoguard/recoguard/internal/sink"
	"github.com/recoguard/recoguard/internal/span"
	"github.com/recoguard/recoguard/internal/threshold"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const gaugeInterval = 15 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "recoguard-server",
		Short: "recoguard - recommendation quality and latency governance",
		Long: `recoguard-server scores recommendation lists, checks them against
quality and latency thresholds, substitutes a popularity fallback for
degraded requests and reports over a retained monitoring window.

Examples:
  recoguard-server                                # Start with defaults
  recoguard-server -c recoguard.yaml              # Load a config file
  recoguard-server --thresholds thresholds.yaml   # Custom threshold document
  recoguard-server replay --since 2h              # Re-publish journaled events`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().Int("port", 8080, "HTTP server port")
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().String("thresholds", "", "threshold document (overrides config)")
	rootCmd.Flags().String("catalog", "", "product catalog for fallback lists (overrides config)")

	rootCmd.AddCommand(
		replayCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("recoguard-server %s\n", version)
				fmt.Printf("  commit: %s\n", commit)
				fmt.Printf("  built:  %s\n", date)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	appCfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		appCfg.Log.Level = "debug"
	}
	return appCfg, logger.New(appCfg.Log.Level, appCfg.Log.Format), nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	appCfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		appCfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		appCfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("thresholds") {
		appCfg.Thresholds.Path, _ = cmd.Flags().GetString("thresholds")
	}
	if cmd.Flags().Changed("catalog") {
		appCfg.Governance.CatalogPath, _ = cmd.Flags().GetString("catalog")
	}

	log.Info("Starting recoguard server", "version", version, "addr", appCfg.Address())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if appCfg.Observability.MetricsEnabled {
		m = metrics.New()
	}

	var audit *threshold.AuditLog
	if appCfg.Thresholds.AuditPath != "" {
		if audit, err = threshold.OpenAuditLog(appCfg.Thresholds.AuditPath); err != nil {
			return err
		}
		defer func() { _ = audit.Close() }()
	}

	var holder *threshold.Holder
	holder, err = threshold.NewHolder(threshold.HolderConfig{
		Path:   appCfg.Thresholds.Path,
		Logger: log,
		Audit:  audit,
		OnLoad: func(err error) {
			if m != nil && holder != nil {
				m.RecordThresholdReload(holder.Version(), err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to load thresholds: %w", err)
	}
	log.Info("Thresholds loaded", "path", appCfg.Thresholds.Path, "version", holder.Version())

	catalog := reco.NewMapCatalog(nil)
	if appCfg.Governance.CatalogPath != "" {
		if catalog, err = reco.LoadCatalogFile(appCfg.Governance.CatalogPath); err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
		log.Info("Catalog loaded", "path", appCfg.Governance.CatalogPath, "products", catalog.Len())
	} else {
		log.Warn("No catalog configured; fallback lists will be empty")
	}

	eventBus, err := bus.NewBus(appCfg.Bus, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	if m != nil {
		eventBus = bus.NewInstrumentedBus(eventBus, m)
	}
	defer func() { _ = eventBus.Close() }()
	log.Info("Event bus ready", "type", appCfg.Bus.Type, "journal", appCfg.Bus.JournalPath)

	tracker := span.NewTracker(span.Config{
		ReapAfter:       appCfg.Span.ReapAfter,
		RetainFor:       appCfg.Span.RetainFor,
		MaxRetained:     appCfg.Span.MaxRetained,
		SlowThresholdMs: func() float64 { return holder.Load().Performance.TotalMs.P99 },
		OnReap: func(n int) {
			if m != nil {
				m.RecordSpansReaped(n)
			}
		},
		Logger: log,
	})

	store := monitor.NewStore(monitor.Config{
		Retention:             appCfg.Monitor.Retention,
		Capacity:              appCfg.Monitor.Capacity,
		TrendScoreEpsilon:     appCfg.Monitor.TrendScoreEpsilon,
		TrendLatencyEpsilonMs: appCfg.Monitor.TrendLatencyEpsilonMs,
		MinTrendRecords:       appCfg.Monitor.MinTrendRecords,
		Thresholds:            holder.Load,
		OnPurge: func(n int) {
			if m != nil {
				m.RecordPurge(n)
			}
		},
		Logger: log,
	})

	if appCfg.Sink.Type == "redis" {
		rs, err := sink.NewRedisSink(ctx, sink.Options{
			URL:    appCfg.Sink.RedisURL,
			Prefix: appCfg.Sink.KeyPrefix,
			TTL:    appCfg.Sink.TTL,
			OnWrite: func(kind string, err error) {
				if m != nil {
					m.RecordSinkWrite(kind, err)
				}
			},
			Logger: log,
		})
		if err != nil {
			return fmt.Errorf("failed to connect record sink: %w", err)
		}
		defer func() { _ = rs.Close() }()

		if appCfg.Sink.Restore {
			n, err := rs.Restore(ctx, store, time.Now().Add(-appCfg.Monitor.Retention))
			if err != nil {
				log.Warn("Record restore failed, starting with an empty window", "error", err)
			} else {
				log.Info("Restored monitoring records", "count", n)
			}
		}
		if err := rs.Subscribe(ctx, eventBus); err != nil {
			return fmt.Errorf("failed to subscribe record sink: %w", err)
		}
		log.Info("Redis record sink enabled", "url", security.MaskURL(appCfg.Sink.RedisURL), "prefix", appCfg.Sink.KeyPrefix)
	}

	if m != nil {
		if err := metrics.NewEventSubscriber(m, eventBus).SubscribeToEvents(ctx); err != nil {
			return fmt.Errorf("failed to subscribe metrics: %w", err)
		}
	}
	if err := server.SubscribeAlertLog(ctx, eventBus, log); err != nil {
		return fmt.Errorf("failed to subscribe alert log: %w", err)
	}

	popularity := fallback.NewPopularityProvider(catalog)
	guarded := governance.NewBreakerFallback(popularity, governance.BreakerConfig{
		Name:     "fallback",
		Failures: appCfg.Governance.BreakerFailures,
		OpenFor:  appCfg.Governance.BreakerOpenDuration,
		OnStateChange: func(name string, state int) {
			if m != nil {
				m.RecordBreakerState(name, state)
			}
		},
		Logger: log,
	})

	coordCfg := governance.Config{
		Scorer:       quality.NewScorer(quality.WithLogger(log)),
		Tracker:      tracker,
		Thresholds:   holder,
		Store:        store,
		Catalog:      catalog,
		Fallback:     guarded,
		FallbackSize: appCfg.Governance.FallbackSize,
		Bus:          eventBus,
		Logger:       log,
	}
	if m != nil {
		coordCfg.Metrics = m
	}
	coord, err := governance.NewCoordinator(coordCfg)
	if err != nil {
		return err
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = appCfg.Host
	srvCfg.Port = appCfg.Port
	srvCfg.Version = version
	srvCfg.RateLimit = appCfg.Security.RateLimit
	srvCfg.CORSOrigins = middleware.ParseOrigins(appCfg.Security.CORSOrigins)
	srvCfg.MetricsPath = appCfg.Observability.MetricsPath
	srv, err := server.New(srvCfg, server.Deps{
		Coordinator: coord,
		Tracker:     tracker,
		Store:       store,
		Thresholds:  holder,
		Audit:       audit,
		Metrics:     m,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutdown signal received")
		return srv.Stop(context.Background())
	})
	g.Go(func() error { return tracker.Run(gctx, appCfg.Span.ReapInterval) })
	g.Go(func() error { return store.Run(gctx, appCfg.Monitor.PurgeInterval) })

	if appCfg.Thresholds.Watch && appCfg.Thresholds.Path != "" {
		watcher, err := threshold.NewWatcher(holder, appCfg.Thresholds.WatchDebounce, log)
		if err != nil {
			return fmt.Errorf("failed to watch thresholds: %w", err)
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}
	if m != nil {
		g.Go(func() error { return publishGauges(gctx, m, tracker, store) })
	}

	if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		log.Error("Server exited with error", "error", err)
		return err
	}
	log.Info("Server stopped")
	return nil
}

// publishGauges refreshes point-in-time gauges until ctx is done.
func publishGauges(ctx context.Context, m *metrics.Metrics, tracker *span.Tracker, store *monitor.Store) error {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		m.SetSpansInFlight(tracker.InFlight())
		m.SetRecordsRetained(store.Len())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-publish journaled record and alert events",
		Long: `Reads the bus journal configured by bus.journal_path and publishes every
event newer than --since to the configured bus, so downstream consumers
that missed events (a Kafka outage, a Redis sink restart) can catch up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if appCfg.Bus.JournalPath == "" {
				return fmt.Errorf("bus.journal_path is not configured")
			}
			since, _ := cmd.Flags().GetDuration("since")

			journal, err := bus.OpenJournal(appCfg.Bus.JournalPath)
			if err != nil {
				return err
			}
			defer func() { _ = journal.Close() }()

			target := appCfg.Bus
			target.JournalPath = ""
			b, err := bus.NewBus(target, log)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			n, err := journal.Replay(cmd.Context(), b, time.Now().Add(-since))
			if err != nil {
				return fmt.Errorf("replay stopped after %d events: %w", n, err)
			}
			fmt.Printf("replayed %d events from %s\n", n, appCfg.Bus.JournalPath)
			return nil
		},
	}
	cmd.Flags().Duration("since", time.Hour, "replay events newer than this")
	return cmd
}
