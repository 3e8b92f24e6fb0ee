package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MetalBlockchain/metalgo/utils/logging"
	"github.com/MetalBlockchain/metalgo/utils/ulimit"
	"github.com/MetalBlockchain/pulseprof/vm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	httpHostKey = "http-host"
	httpPortKey = "http-port"

	shutdownTimeout = 10 * time.Second
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the profiling JSON-RPC API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, v)
		},
	}
	cmd.Flags().String(httpHostKey, "127.0.0.1", "Address the API listens on")
	cmd.Flags().Uint16(httpPortKey, 9650, "Port the API listens on")
	return cmd
}

func serve(ctx context.Context, v *viper.Viper) error {
	log, err := newLogger(v)
	if err != nil {
		return err
	}
	defer log.Stop()

	if err := ulimit.Set(ulimit.DefaultFDLimit, log); err != nil {
		log.Warn("failed to raise fd limit", zap.Error(err))
	}

	cfgBytes, err := configBytes(v)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	profiler := &vm.VM{}
	if err := profiler.Initialize(ctx, log, registry, cfgBytes); err != nil {
		return err
	}

	handler, err := newHandler(ctx, profiler, registry, log)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(v.GetString(httpHostKey), strconv.Itoa(v.GetInt(httpPortKey)))
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("serving API", zap.String("address", addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := errors.Join(
		profiler.Shutdown(shutdownCtx),
		server.Shutdown(shutdownCtx),
	)
	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return shutdownErr
}

// newHandler mounts the VM handlers next to metrics and health endpoints.
func newHandler(ctx context.Context, profiler *vm.VM, registry *prometheus.Registry, log logging.Logger) (http.Handler, error) {
	handlers, err := profiler.CreateHandlers(ctx)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	for path, h := range handlers {
		mux.Handle(path, h)
	}
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health, err := profiler.HealthCheck(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			health = map[string]string{"error": err.Error()}
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			log.Debug("failed to write health response", zap.Error(err))
		}
	})
	return mux, nil
}
