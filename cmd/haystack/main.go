// Package main provides the haystack binary entry point.
// It sends single Project Haystack requests, follows watches, and runs the
// NATS bridge.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/c360studio/haystack/config"
	"github.com/c360studio/haystack/grid"
	"github.com/c360studio/haystack/session"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "haystack"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the flags shared by every command plus the request flags.
type options struct {
	configPath string
	logLevel   string
	debug      bool
	monochrome bool
	silent     bool

	username string
	password string
	token    string
	content  string
	accept   string
	version  string

	keepalive bool
	get       bool
	raw       bool
	names     []string
	limit     int
	hasLimit  bool
	index     int
	hasIndex  bool

	level *slog.LevelVar
}

func rootCmd() *cobra.Command {
	o := &options{level: new(slog.LevelVar)}

	cmd := &cobra.Command{
		Use:   "haystack [flags] uri [op] [name=value...]",
		Short: "Project Haystack client",
		Long: `Haystack sends one request to a Project Haystack server and prints the
response grid as a table.

Operations:
  about                         Read about information
  defs [filter] [limit]         Read configured definitions
  libs [filter] [limit]         Read installed libraries
  ops [filter] [limit]          Read available operations
  filetypes [filter] [limit]    Read supported file types
  nav [navId]                   Read database navigation
  read filter [limit]           Read database records
  watchSub watchId [lease]      Watch subscribe
  watchUnsub watchId [close]    Watch unsubscribe
  watchPoll watchId [refresh]   Watch poll
  pointWrite id [val]           Write point priority array
  hisRead id [range]            Read time-series data
  hisWrite ts val               Write time-series data
  invokeAction id action        Invoke user action
  close                         Close session`,
		Version:       Version,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if o.monochrome {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			o.hasLimit = cmd.Flags().Changed("limit")
			o.hasIndex = cmd.Flags().Changed("index")
			return runRequest(cmd, o, args)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Config file path (YAML)")
	pf.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVarP(&o.debug, "debug", "d", false, "Output debug information")
	pf.BoolVarP(&o.monochrome, "monochrome", "m", false, "Disable console colours")
	pf.BoolVarP(&o.silent, "silent", "s", false, "Disable console output")
	pf.StringVarP(&o.username, "username", "u", "", "Set session username")
	pf.StringVarP(&o.password, "password", "p", "", "Set session password")
	pf.StringVarP(&o.token, "token", "t", "", "Set session token")
	pf.StringVarP(&o.content, "content", "c", "", "Set request content type (zinc, json or a mime type)")
	pf.StringVarP(&o.accept, "accept", "a", "", "Set request accept type")
	pf.StringVarP(&o.version, "haystack", "x", "", "Set haystack version")

	f := cmd.Flags()
	f.BoolVarP(&o.keepalive, "keepalive", "k", false, "Keep session token alive")
	f.BoolVarP(&o.get, "get", "g", false, "Use the GET method")
	f.BoolVarP(&o.raw, "raw", "r", false, "Output raw response")
	f.StringSliceVarP(&o.names, "names", "n", nil, "Output columns specified")
	f.IntVarP(&o.limit, "limit", "l", 0, "Output rows limit")
	f.IntVarP(&o.index, "index", "i", 0, "Output row index")

	cmd.AddCommand(watchCmd(o))
	cmd.AddCommand(bridgeCmd(o))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// parseLevel maps a level name to a slog level. Unknown names are info.
func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// setupLogger installs a text logger on stderr. Its level can be raised
// or lowered later through o.level.
func (o *options) setupLogger(fallback string) *slog.Logger {
	o.level.Set(o.resolveLevel(fallback))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: o.level}))
	slog.SetDefault(logger)
	return logger
}

func (o *options) resolveLevel(fallback string) slog.Level {
	switch {
	case o.debug:
		return slog.LevelDebug
	case o.logLevel != "":
		return parseLevel(o.logLevel)
	}
	return parseLevel(fallback)
}

// loadConfig layers the config files, the environment and the flags. uri
// overrides the server uri when not empty.
func (o *options) loadConfig(logger *slog.Logger, uri string) (*config.Config, error) {
	loader := config.NewLoader(logger)
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = loader.LoadFile(o.configPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	o.applyFlags(cfg, uri)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlags copies the server flags that were given over cfg.
func (o *options) applyFlags(cfg *config.Config, uri string) {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&cfg.Server.URI, uri)
	set(&cfg.Server.Username, o.username)
	set(&cfg.Server.Password, o.password)
	set(&cfg.Server.Token, o.token)
	set(&cfg.Server.Version, o.version)
	set(&cfg.Server.Content, config.ContentType(o.content))
	set(&cfg.Server.Accept, config.ContentType(o.accept))
}

// buildRequest turns "uri op name=value..." into a request. Only the
// first = of a pair separates the name from the value.
func (o *options) buildRequest(args []string) session.Request {
	req := session.Request{Raw: o.raw}
	if o.get {
		req.Method = "GET"
	}
	if len(args) > 1 {
		req.Op = args[1]
	}
	if len(args) > 2 {
		req.Grid = grid.New()
		for _, arg := range args[2:] {
			name, value, _ := strings.Cut(arg, "=")
			if name == "" {
				continue
			}
			req.Grid.Add(name, grid.Classify(value))
		}
	}
	return req
}

func (o *options) display() displayOptions {
	return displayOptions{
		raw:      o.raw,
		names:    o.names,
		limit:    o.limit,
		hasLimit: o.hasLimit,
		index:    o.index,
		hasIndex: o.hasIndex,
	}
}

func runRequest(cmd *cobra.Command, o *options, args []string) error {
	logger := o.setupLogger("warn")

	uri := ""
	if len(args) > 0 {
		uri = args[0]
	}
	cfg, err := o.loadConfig(logger, uri)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := session.New(cfg.SessionConfig(), session.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	out := newPrinter(cmd.OutOrStdout(), o.monochrome, o.silent)
	res, err := s.Request(ctx, o.buildRequest(args))
	if err == nil {
		err = out.display(res, o.display())
	}

	if o.keepalive && err == nil {
		out.print(renderTable(nil, [][]string{{"Token", s.Token()}}))
		return nil
	}
	if endErr := s.End(context.WithoutCancel(ctx)); err == nil {
		err = endErr
	}
	return err
}
