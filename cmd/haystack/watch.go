package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/haystack/grid"
	"github.com/c360studio/haystack/session"
)

const shutdownTimeout = 10 * time.Second

func watchCmd(o *options) *cobra.Command {
	var (
		columns  []string
		lease    string
		interval string
	)

	cmd := &cobra.Command{
		Use:   "watch uri [id...]",
		Short: "Subscribe to entities and print every poll",
		Long: `Watch opens a Haystack watch on the given ids and prints each update as a
table until interrupted. Without ids the watch.ids of the config are used.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := o.setupLogger("warn")
			cfg, err := o.loadConfig(logger, args[0])
			if err != nil {
				return err
			}
			if lease != "" {
				cfg.Watch.Lease = lease
			}
			if interval != "" {
				cfg.Watch.PollInterval = interval
			}
			if len(columns) > 0 {
				cfg.Watch.Columns = columns
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ids := args[1:]
			if len(ids) == 0 {
				ids = cfg.Watch.Ids
			}
			if len(ids) == 0 {
				return errors.New("no ids to watch")
			}

			out := newPrinter(cmd.OutOrStdout(), o.monochrome, o.silent)
			s, err := session.New(cfg.SessionConfig(),
				session.WithLogger(logger),
				session.WithUpdateFunc(func(_ context.Context, g *grid.Grid) {
					out.print(renderTable(g.Names(), gridRows(g)))
				}),
			)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runWatch(ctx, s, ids, cfg.Watch.Columns, logger)
		},
	}

	cmd.Flags().StringSliceVarP(&columns, "names", "n", nil, "Output columns specified")
	cmd.Flags().StringVar(&lease, "lease", "", "Watch lease (e.g. 1min)")
	cmd.Flags().StringVar(&interval, "interval", "", "Poll interval (e.g. 5s)")

	return cmd
}

// runWatch starts s, subscribes ids and keeps polling until ctx is done.
func runWatch(ctx context.Context, s *session.Session, ids, columns []string, logger *slog.Logger) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() {
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.End(endCtx); err != nil {
			logger.Warn("Failed to end session", "error", err)
		}
	}()

	if len(columns) > 0 {
		s.SetColumns(columns...)
	}
	s.Subscribe(ctx, ids...)
	if s.Stats().WatchID == "" {
		return errors.New("watch was not opened")
	}
	logger.Info("Watching", "ids", len(ids), "watch_id", s.Stats().WatchID)

	<-ctx.Done()
	stats := s.Stats()
	logger.Info("Watch stopped", "polls", stats.Polls, "updates", stats.Updates, "errors", stats.Errors)
	return nil
}
