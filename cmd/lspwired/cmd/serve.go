package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/firi/lspwire/internal/config"
	"github.com/firi/lspwire/internal/dispatch"
	"github.com/firi/lspwire/internal/lifecycle"
	"github.com/firi/lspwire/internal/lsptypes"
	"github.com/firi/lspwire/internal/rpclog"
	"github.com/firi/lspwire/internal/rpcconn"
	"github.com/firi/lspwire/internal/transport"
	"github.com/firi/lspwire/internal/typedrpc"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lspwired server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables it)")
	rootCmd.AddCommand(serveCmd)
}

type hoverParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
	Position struct {
		Line      int `json:"line"`
		Character int `json:"character"`
	} `json:"position"`
}

type hoverResult struct {
	Contents string `json:"contents"`
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	logger, ring, closeLog, err := rpclog.New(cfg.Log.Path, parseLogLevel(cfg.Log.Level))
	if err != nil {
		return fmt.Errorf("serve: open log: %w", err)
	}
	defer closeLog()
	_ = ring // exposed for a future `lspwired logs` command; not read here

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			server.Close()
		}()
	}

	tr, closeTransport, err := openTransport(cfg)
	if err != nil {
		return fmt.Errorf("serve: open transport: %w", err)
	}
	defer closeTransport()

	d := dispatch.New(dispatch.Options{
		IncludeExceptionDetails: cfg.IncludeExceptionDetails,
		NotificationErrorSink: func(method string, err error) {
			logger.Error("notification handler failed", "method", method, "error", err)
		},
	})

	conn := rpcconn.New(tr, d, rpcconn.Options{
		RequestTimeout: cfg.RequestTimeout,
		MaxContentLength: cfg.MaxContentLength,
		Logger: logger,
	})

	caps, err := json.Marshal(cfg.Capabilities)
	if err != nil {
		return fmt.Errorf("serve: marshal capabilities: %w", err)
	}

	gate := lifecycle.New(d, lifecycle.Options{
		Capabilities: caps,
		ServerInfo:   &lsptypes.ServerInfo{Name: "lspwired", Version: version},
		OnExit: func() {
			conn.Close()
		},
		OnInitialize: func(ctx context.Context, params lsptypes.InitializeParams) error {
			logger.Info("client initialized", "client", clientName(params))
			return nil
		},
	})

	registerDemoHandlers(gate)

	watcher, err := transport.WatchConfig(configPath, func() {
		reloaded, err := config.Load(configPath)
		if err != nil {
			logger.Error("config reload failed", "path", configPath, "error", err)
			return
		}
		if err := gate.SetTrace(lsptypes.TraceValue(reloaded.Trace)); err != nil {
			logger.Warn("config reload: trace level", "error", err)
			return
		}
		logger.Info("trace level reloaded", "trace", reloaded.Trace)
	}, logger, 0)
	if err != nil {
		logger.Warn("config watcher not started", "path", configPath, "error", err)
	} else {
		defer watcher.Stop()
	}

	logger.Info("lspwired starting", "mode", cfg.Listen.Mode)
	if err := conn.Run(ctx); err != nil && !errors.Is(err, rpcconn.ErrClosed) {
		return fmt.Errorf("serve: connection run: %w", err)
	}
	return nil
}

func registerDemoHandlers(gate *lifecycle.Gate) {
	gate.RegisterRequest("textDocument/hover", typedrpc.Request(func(ctx context.Context, p hoverParams) (hoverResult, error) {
		return hoverResult{Contents: fmt.Sprintf("(demo hover for %s)", p.TextDocument.URI)}, nil
	}))
}

func clientName(params lsptypes.InitializeParams) string {
	if params.ClientInfo == nil {
		return "unknown"
	}
	return params.ClientInfo.Name
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func openTransport(cfg *config.Config) (rpcconn.Transport, func() error, error) {
	switch cfg.Listen.Mode {
	case "", "stdio":
		t := transport.NewStdio()
		return t, t.Close, nil
	case "unix":
		ln, err := transport.Listen(cfg.Listen.Address)
		if err != nil {
			return nil, nil, err
		}
		t, err := ln.Accept()
		if err != nil {
			ln.Close()
			return nil, nil, err
		}
		return t, func() error { t.Close(); return ln.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("serve: unknown listen mode %q", cfg.Listen.Mode)
	}
}
