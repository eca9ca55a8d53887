package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/haystack/bridge"
	"github.com/c360studio/haystack/config"
	"github.com/c360studio/haystack/session"
	"github.com/c360studio/haystack/storage"
)

func bridgeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge [uri]",
		Short: "Mirror a Haystack watch into NATS",
		Long: `Bridge keeps a watch open on the configured ids and publishes every update
on <prefix>.watch.<id>, storing the latest value of each point in a
JetStream key-value bucket. It also answers one-shot requests on
<prefix>.op, <prefix>.dataset and <prefix>.value.

Edits to the watch section of the config file are applied while running.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := ""
			if len(args) > 0 {
				uri = args[0]
			}
			return runBridge(cmd.Context(), o, uri)
		},
	}
}

func runBridge(ctx context.Context, o *options, uri string) error {
	logger := o.setupLogger("info")
	cfg, err := o.loadConfig(logger, uri)
	if err != nil {
		return err
	}
	if o.logLevel == "" && !o.debug {
		o.level.Set(parseLevel(cfg.Log.Level))
	}
	if len(cfg.Watch.Ids) == 0 {
		return errors.New("no ids to watch: set watch.ids in the config")
	}

	slog.Info("Haystack bridge starting", "version", Version, "uri", cfg.Server.URI)

	natsClient, err := connectToNATS(ctx, cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get JetStream: %w", err)
	}
	store, err := storage.NewStore(ctx, js, cfg.NATS.Bucket)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sessionMetrics := session.NewMetrics(reg)
	bridgeMetrics := bridge.NewMetrics(reg)

	b, err := bridge.New(natsClient, store,
		bridge.WithPrefix(cfg.NATS.Prefix),
		bridge.WithInclude(cfg.Bridge.Include...),
		bridge.WithLogger(logger),
		bridge.WithMetrics(bridgeMetrics),
	)
	if err != nil {
		return err
	}

	s, err := session.New(cfg.SessionConfig(),
		session.WithLogger(logger),
		session.WithMetrics(sessionMetrics),
	)
	if err != nil {
		return err
	}
	b.Attach(s)

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	provider := bridge.NewProvider(cfg.SessionConfig(), logger, bridgeMetrics, session.WithMetrics(sessionMetrics))
	if err := provider.Serve(signalCtx, natsClient, cfg.NATS.Prefix); err != nil {
		return err
	}

	if cfg.Bridge.MetricsAddr != "" {
		srv := metricsServer(cfg.Bridge.MetricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Metrics listening", "addr", cfg.Bridge.MetricsAddr)
	}

	if path := o.watchedConfigPath(logger); path != "" {
		if err := watchConfig(signalCtx, path, o, s, cfg, logger); err != nil {
			logger.Warn("Config reload disabled", "path", path, "error", err)
		}
	}

	err = runWatch(signalCtx, s, cfg.Watch.Ids, cfg.Watch.Columns, logger)

	stats := b.Stats()
	slog.Info("Haystack bridge stopped",
		"published", stats.Published,
		"skipped", stats.Skipped,
		"failed", stats.Failed)
	return err
}

func metricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// watchedConfigPath is the project config file the bridge reloads, if any.
func (o *options) watchedConfigPath(logger *slog.Logger) string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.NewLoader(logger).FindProjectConfig()
}

// watchConfig applies watch changes from path to s until ctx is done.
func watchConfig(ctx context.Context, path string, o *options, s *session.Session, current *config.Config, logger *slog.Logger) error {
	loader := config.NewLoader(logger)
	w, err := config.NewWatcher(path, logger, config.WithLoadFunc(func() (*config.Config, error) {
		cfg, err := loader.LoadFile(path)
		if err != nil {
			return nil, err
		}
		o.applyFlags(cfg, current.Server.URI)
		return cfg, nil
	}))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Stop()
		return err
	}

	go func() {
		defer w.Stop()
		watch := current.Watch
		for next := range w.Updates() {
			applyWatchConfig(ctx, s, watch, next.Watch, logger)
			watch = next.Watch
		}
	}()
	return nil
}

// applyWatchConfig moves s from the old watch settings to the new ones.
func applyWatchConfig(ctx context.Context, s *session.Session, old, next config.WatchConfig, logger *slog.Logger) {
	if !slices.Equal(old.Columns, next.Columns) {
		s.SetColumns(next.Columns...)
		logger.Info("Watch columns changed", "columns", next.Columns)
	}

	added, removed := diffIDs(old.Ids, next.Ids)
	if len(removed) > 0 {
		if err := s.Unsubscribe(ctx, removed); err != nil {
			logger.Warn("Failed to unsubscribe removed ids", "ids", removed, "error", err)
		}
	}
	if len(added) > 0 {
		s.Subscribe(ctx, added...)
	}
	if len(added) > 0 || len(removed) > 0 {
		logger.Info("Watch ids changed", "added", len(added), "removed", len(removed))
	}
}

// diffIDs returns the ids only in next and the ids only in old. A leading
// @ is ignored when comparing.
func diffIDs(old, next []string) (added, removed []string) {
	key := func(id string) string { return strings.TrimPrefix(id, "@") }
	oldSet := make(map[string]bool, len(old))
	for _, id := range old {
		oldSet[key(id)] = true
	}
	nextSet := make(map[string]bool, len(next))
	for _, id := range next {
		k := key(id)
		if !oldSet[k] && !nextSet[k] {
			added = append(added, id)
		}
		nextSet[k] = true
	}
	for _, id := range old {
		if !nextSet[key(id)] {
			removed = append(removed, id)
		}
	}
	return added, removed
}
