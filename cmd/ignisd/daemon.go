package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oriys/ignis/internal/bootstrap"
	"github.com/oriys/ignis/internal/config"
	"github.com/oriys/ignis/internal/instancemgr/simulated"
	"github.com/oriys/ignis/internal/logging"
	"github.com/oriys/ignis/internal/metrics"
	"github.com/oriys/ignis/internal/observability"
	"github.com/oriys/ignis/internal/transport"
	"github.com/oriys/ignis/internal/transport/grpctransport"
	"github.com/oriys/ignis/internal/transport/redistransport"
)

func daemonCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the Ignis invoker engine host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    "otlp-http",
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			var collectors *metrics.Collectors
			if cfg.Observability.Metrics.Enabled {
				collectors = metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, nil)
			}

			if err := bootstrap.FetchBaseImage(ctx, cfg); err != nil {
				return fmt.Errorf("fetch base image: %w", err)
			}

			tr, err := newTransport(cfg)
			if err != nil {
				return fmt.Errorf("init transport: %w", err)
			}

			// The real unikernel boot loader and memory-snapshotting
			// primitives are genuinely external (C1, spec.md §1's
			// Non-goals); ignisd drives the simulated in-process Manager
			// until a production backend is wired in.
			mgr := simulated.New()

			host, err := bootstrap.Run(ctx, cfg, mgr, tr)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer host.Close()

			if collectors != nil {
				go serveHTTP(cfg.Daemon.HTTPAddr, collectors)
			}

			go host.Serve(ctx)
			go func() {
				if err := host.PumpIngress(ctx); err != nil {
					logging.Op().Error("ingress pump stopped", "error", err)
					cancel()
				}
			}()

			logging.Op().Info("ignisd started",
				"num_cores", cfg.NumCores,
				"transport", cfg.Transport.Kind,
			)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
				logging.Op().Info("shutdown signal received")
			case <-ctx.Done():
				logging.Op().Warn("shutting down after ingress failure")
			}
			cancel()
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}

func newTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "redis":
		return redistransport.New(redistransport.Config{
			Addr:           cfg.Transport.Redis.Addr,
			IngressListKey: cfg.Transport.Redis.IngressListKey,
			EgressListKey:  cfg.Transport.Redis.EgressListKey,
		}), nil
	case "grpc", "":
		return grpctransport.NewServer(cfg.Transport.GRPC.Addr)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

func serveHTTP(addr string, collectors *metrics.Collectors) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.HTTPMiddleware(collectors.Handler()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Op().Error("metrics server stopped", "error", err)
	}
}
