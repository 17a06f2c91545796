// Command treecored runs the treecore storage engine as a long-lived
// process with an observability sidecar. The engine itself has no
// network API; this binary exists to host it for local development
// and to expose metrics/health/pprof over HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/treecore/treecore/internal/logger"
	"github.com/treecore/treecore/internal/metrics"
	"github.com/treecore/treecore/internal/server"
	"github.com/treecore/treecore/pkg/engine"
)

var (
	dataDir      = flag.String("data-dir", "data", "directory for page files and catalogs")
	bufferFrames = flag.Int("buffer-frames", 100, "number of buffer-pool frames")
	evictionPolicy = flag.String("eviction-policy", "lru", "buffer eviction policy: lru, fifo, clock")
	logLevel     = flag.String("log-level", "info", "log level: debug, info, warn, error")
	logPretty    = flag.Bool("log-pretty", true, "pretty-print logs for local development")
	metricsAddr  = flag.String("metrics-addr", ":9090", "address for the observability HTTP server")
)

func main() {
	flag.Parse()

	log := logger.NewLogger(logger.Config{
		Level:  *logLevel,
		Pretty: *logPretty,
	})
	mtr := metrics.NewMetrics()

	cfg := engine.Config{
		DataDirectory:  *dataDir,
		BufferFrames:   *bufferFrames,
		EvictionPolicy: *evictionPolicy,
		LogLevel:       *logLevel,
		LogPretty:      *logPretty,
		MetricsAddr:    *metricsAddr,
	}

	eng, err := engine.New(cfg, log, mtr)
	if err != nil {
		log.Fatal("failed to start engine").Err(err).Send()
	}
	log.LogEngineReady()

	obs := server.NewObservabilityServer(*metricsAddr, log)
	obsErrs := make(chan error, 1)
	go func() {
		obsErrs <- obs.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down").Str("signal", sig.String()).Send()
	case err := <-obsErrs:
		if err != nil {
			log.Error("observability server failed").Err(err).Send()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := obs.Shutdown(ctx); err != nil {
		log.Error("observability server shutdown error").Err(err).Send()
	}
	if err := eng.Shutdown(); err != nil {
		log.Error("engine shutdown error").Err(err).Send()
	}
}
