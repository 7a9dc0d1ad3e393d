package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/config"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/engine"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/gateway"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/relay"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/tracing"
)

type flags struct {
	videoID string
	speed   float64
	step    time.Duration
}

func main() {
	var f flags
	flag.StringVar(&f.videoID, "video", "demo-fractions", "video to watch")
	flag.Float64Var(&f.speed, "speed", 4, "simulated playback rate")
	flag.DurationVar(&f.step, "step", 250*time.Millisecond, "interval between time updates")
	flag.Parse()

	// Load configuration; without CONFIG_PATH the defaults apply
	cfg := config.Default()
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	os.Exit(run(cfg, logger, f))
}

// run owns every deferred teardown so they happen before the exit code is returned
func run(cfg *config.Config, logger *logging.Logger, f flags) int {
	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize tracer")
			return 1
		}
		defer closer.Close()
	}

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("metrics server stopped", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(ctx)
		}()
	}

	gw, err := gateway.NewHTTPGateway(cfg.Gateway, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create gateway")
		return 1
	}
	eng := engine.New(gw, cfg.Engine, engine.WithLogger(logger))

	if cfg.Redis.Enabled {
		rl, err := relay.NewRedisRelay(cfg.Redis, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to connect relay")
			return 1
		}
		defer rl.Close()
		detach := rl.Attach(eng.Hub())
		defer detach()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Stopping playback...")
			cancel()
		case <-ctx.Done():
		}
	}()

	sim := &simulator{
		engine:  eng,
		videoID: f.videoID,
		speed:   f.speed,
		step:    f.step,
		log:     logger.WithComponent("player"),
	}
	if err := sim.Run(ctx); err != nil {
		logger.ErrorWithErr("playback failed", err)
		return 1
	}
	return 0
}
