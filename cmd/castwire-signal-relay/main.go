package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/castwire/signal-relay/internal/config"
	"github.com/castwire/signal-relay/internal/httpserver"
	"github.com/castwire/signal-relay/internal/metrics"
	"github.com/castwire/signal-relay/internal/session"
	"github.com/castwire/signal-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting castwire-signal-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"broadcast_policy", cfg.BroadcastPolicy,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"max_message_bytes", cfg.MaxMessageBytes,
		"static_dir_set", cfg.StaticDir != "",
		"ice_servers", len(cfg.ICEServers),
	)
	if err := cfg.ICEConfigError(); err != nil {
		// Signaling works without ICE config; /webrtc/ice reports the failure.
		logger.Warn("ice configuration invalid", "err", err)
	}
	if len(cfg.AllowedOrigins) == 0 {
		logger.Warn("no allowed origins configured; cross-origin browsers are limited to same-host")
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	m := metrics.New()
	reg := session.NewRegistry()
	sig := signaling.NewServer(signaling.Config{
		Registry:             reg,
		Metrics:              m,
		Logger:               logger,
		AllowedOrigins:       cfg.AllowedOrigins,
		ExclusiveBroadcast:   cfg.BroadcastPolicy == config.BroadcastPolicySingle,
		WSIdleTimeout:        cfg.WSIdleTimeout,
		WSPingInterval:       cfg.WSPingInterval,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	})
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}

	return commit, built
}
