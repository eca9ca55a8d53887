package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/haystack/config"
)

const natsConnectTimeout = 10 * time.Second

// connectToNATS dials url and blocks until the client reports a live
// connection. The client reconnects forever once connected.
func connectToNATS(ctx context.Context, url string, logger *slog.Logger) (*natsclient.Client, error) {
	client, err := natsclient.NewClient(url,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats client for %s: %w", url, err)
	}

	logger.Debug("Dialing NATS", "url", url)
	if err := client.Connect(ctx); err != nil {
		return nil, natsUnavailable(err, url)
	}

	waitCtx, cancel := context.WithTimeout(ctx, natsConnectTimeout)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		return nil, natsUnavailable(err, url)
	}

	logger.Info("NATS ready", "url", url)
	return client, nil
}

// natsUnavailable adds a hint for the usual case of no local server.
func natsUnavailable(err error, url string) error {
	msg := err.Error()
	unreachable := false
	for _, s := range []string{"connection refused", "no servers available", "timeout"} {
		if strings.Contains(msg, s) {
			unreachable = true
			break
		}
	}
	if !unreachable {
		return fmt.Errorf("nats %s: %w", url, err)
	}
	return fmt.Errorf("nats %s: %w\n\nno server answered; start one with\n  docker run -p 4222:4222 nats -js\nor point %s (or nats.url in %s) at a running server",
		url, err, config.EnvNATSURL, config.ProjectConfigFile)
}
