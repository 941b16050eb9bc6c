// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/absmach/fluxpub/config"
	"github.com/absmach/fluxpub/failover"
	"github.com/absmach/fluxpub/internal/wiring"
	"github.com/absmach/fluxpub/otel"
	"github.com/absmach/fluxpub/producer"
)

const shutdownTimeout = 10 * time.Second

// headerFlags collects repeated -header key=value flags.
type headerFlags map[string]string

func (h headerFlags) String() string {
	pairs := make([]string, 0, len(h))
	for k, v := range h {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (h headerFlags) Set(value string) error {
	k, v, ok := strings.Cut(value, "=")
	if !ok || k == "" {
		return fmt.Errorf("header %q must be key=value", value)
	}
	h[k] = v
	return nil
}

type sender interface {
	Send(ctx context.Context, msg *producer.Message) error
}

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "Path to configuration file")
	topic := flag.String("topic", "", "Destination topic or routing key")
	key := flag.String("key", "", "Message key")
	payload := flag.String("payload", "", "Message payload (read from stdin when empty)")
	contentType := flag.String("content-type", "", "Message content type")
	count := flag.Int("count", 1, "Number of messages to send")
	headers := headerFlags{}
	flag.Var(headers, "header", "Message header as key=value (repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	body := []byte(*payload)
	if *payload == "" {
		if body, err = io.ReadAll(os.Stdin); err != nil {
			logger.Error("Failed to read payload from stdin", "error", err)
			return 1
		}
	}

	instanceID, err := os.Hostname()
	if err != nil {
		instanceID = "fluxpub"
	}
	shutdownTelemetry, err := otel.InitProvider(cfg, instanceID)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	var metrics *failover.Metrics
	if cfg.Telemetry.MetricsEnabled {
		if metrics, err = failover.NewMetrics(); err != nil {
			logger.Error("Failed to create metrics", "error", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := wiring.BuildProducers(cfg, logger, metrics)
	if err != nil {
		logger.Error("Failed to build producers", "error", err)
		return 1
	}
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("Failed to close producers", "error", err)
		}
	}()

	d, err := wiring.BuildDispatcher(cfg, pool.Producers, logger, metrics)
	if err != nil {
		logger.Error("Failed to create dispatcher", "error", err)
		return 1
	}
	defer d.Dispose()

	msg := producer.NewMessage(*topic, body)
	msg.Key = *key
	msg.ContentType = *contentType
	if len(headers) > 0 {
		msg.Headers = headers
	}

	sent, failed := sendAll(ctx, d, msg, *count, logger)
	if snap, err := d.Snapshot(); err == nil && len(snap) > 0 {
		for id, delay := range snap {
			logger.Debug("Backoff state", "producer_id", id.String(), "delay", delay)
		}
	}
	logger.Info("Done", "sent", sent, "failed", failed)

	if failed > 0 || sent < *count {
		return 1
	}
	return 0
}

// sendAll sends count copies of tmpl and returns how many succeeded and
// failed. It stops early when ctx ends.
func sendAll(ctx context.Context, s sender, tmpl *producer.Message, count int, logger *slog.Logger) (sent, failed int) {
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			logger.Warn("Interrupted", "remaining", count-i)
			return sent, failed
		}

		msg := tmpl.Copy()
		msg.Timestamp = time.Now()
		if err := s.Send(ctx, msg); err != nil {
			failed++
			logFailure(logger, i, err)
			continue
		}
		sent++
	}
	return sent, failed
}

func logFailure(logger *slog.Logger, seq int, err error) {
	var ferr *failover.FailoverError
	if !errors.As(err, &ferr) {
		logger.Error("Send failed", "seq", seq, "error", err)
		return
	}

	logger.Error("Send failed on every attempt", "seq", seq, "attempts", ferr.AttemptsMade)
	for _, cause := range ferr.Errors {
		var perr *producer.PublishError
		if errors.As(cause, &perr) {
			logger.Error("Attempt failed",
				"seq", seq,
				"attempt", perr.Attempt,
				"producer_id", perr.Producer.String(),
				"endpoint", perr.Endpoint,
				"error", perr.Err)
			continue
		}
		logger.Error("Attempt failed", "seq", seq, "error", cause)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
