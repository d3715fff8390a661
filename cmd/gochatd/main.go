// Command gochatd is the chat server daemon: one TCP listener, a
// poll-driven event loop over a fixed descriptor table, and an optional
// outbound connection to a server manager.
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
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dantte-lp/gochatd/internal/chat"
	"github.com/dantte-lp/gochatd/internal/config"
	"github.com/dantte-lp/gochatd/internal/diag"
	"github.com/dantte-lp/gochatd/internal/metrics"
	"github.com/dantte-lp/gochatd/internal/server"
	"github.com/dantte-lp/gochatd/internal/store"
	appversion "github.com/dantte-lp/gochatd/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseFlags()
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("gochatd starting",
		slog.String("version", appversion.Version),
		slog.String("addr", cfg.Server.Addr),
		slog.String("store", cfg.Store.Path),
	)

	creds, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("open credential store failed", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := creds.Close(); err != nil {
			logger.Error("close credential store failed", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	dispatcher := chat.NewDispatcher(creds, logger)

	emitter := diag.Dial(cfg.Manager.Addr, logger)
	defer func() {
		if err := emitter.Close(); err != nil {
			logger.Warn("close manager channel failed", slog.String("error", err.Error()))
		}
	}()

	srv, err := server.New(server.Config{
		Addr:        cfg.Server.Addr,
		MaxFDs:      cfg.Server.MaxFDs,
		PollTimeout: cfg.Server.PollTimeout,
		DiagEvery:   cfg.Manager.DiagnosticInterval,
	}, dispatcher, creds, emitter, collector, logger)
	if err != nil {
		logger.Error("start server failed", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	metricsDone := make(chan error, 1)
	if cfg.Metrics.Addr != "" {
		metricsSrv = newMetricsServer(cfg.Metrics, reg)
		go func() {
			logger.Info("metrics server listening",
				slog.String("addr", cfg.Metrics.Addr),
				slog.String("path", cfg.Metrics.Path),
			)
			err := metricsSrv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			metricsDone <- err
		}()
	} else {
		metricsDone <- nil
	}

	logger.Info("gochatd ready", slog.String("addr", srv.Addr().String()))

	runErr := srv.Run(ctx)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}
	if err := <-metricsDone; err != nil {
		logger.Error("metrics server exited with error", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("gochatd exited with error", slog.String("error", runErr.Error()))
		return 1
	}

	logger.Info("gochatd stopped")
	return 0
}

// parseFlags builds a config.Config from the standard library flag package,
// layered on top of any -config file and environment overrides. Flags given
// on the command line take precedence over both.
func parseFlags() (*config.Config, error) {
	fs := flag.NewFlagSet("gochatd", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to configuration file (YAML)")
	addr := fs.String("a", "", "listen address, e.g. 0.0.0.0")
	port := fs.Int("p", 0, "listen port")
	managerAddr := fs.String("A", "", "manager address to connect to")
	managerPort := fs.Int("P", 0, "manager port")
	maxFDs := fs.Int("max-fds", 0, "size of the fixed descriptor table, including the listener")
	pollTimeout := fs.Duration("poll-timeout", 0, "maximum block time of each poll(2) call")
	storePath := fs.String("store", "", "path to the credential store file")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus metrics listen address (overrides metrics.addr; an empty metrics.addr disables the endpoint)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "log output format: json or text")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if *addr != "" || *port != 0 {
		host := *addr
		p := *port
		if host == "" {
			host, _, _ = net.SplitHostPort(cfg.Server.Addr)
		}
		if p == 0 {
			p = defaultPort(cfg.Server.Addr)
		}
		cfg.Server.Addr = fmt.Sprintf("%s:%d", host, p)
	}
	if *managerAddr != "" || *managerPort != 0 {
		host := *managerAddr
		p := *managerPort
		if host == "" {
			host, _, _ = net.SplitHostPort(cfg.Manager.Addr)
		}
		if p == 0 {
			p = defaultPort(cfg.Manager.Addr)
		}
		cfg.Manager.Addr = fmt.Sprintf("%s:%d", host, p)
	}
	if *maxFDs != 0 {
		cfg.Server.MaxFDs = *maxFDs
	}
	if *pollTimeout != 0 {
		cfg.Server.PollTimeout = *pollTimeout
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	return cfg, nil
}

// defaultPort extracts the numeric port from an "addr:port" string, used so
// that passing only -a or only -p overrides one half of a listen address
// without discarding the other.
func defaultPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return p
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar so
// a future reload mechanism can change verbosity without restarting.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// newMetricsServer creates an HTTP server for the Prometheus metrics
// endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
