package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/creamytech/Castra-site-sub000/config"
	"github.com/creamytech/Castra-site-sub000/internal/bootstrap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file if exists (for local development)
	_ = godotenv.Load()

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	svc, cleanup, err := bootstrap.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	log := svc.Deps.Log

	runWorker := *mode == "worker" || *mode == "all"
	runAPI := *mode == "api" || *mode == "all"
	if !runWorker && !runAPI {
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}

	if runWorker {
		svc.Deps.Pool.Start()
		log.Info().Msg("worker pool started")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down")

		done := make(chan struct{})
		go func() {
			if runAPI {
				if err := svc.App.Shutdown(); err != nil {
					log.Error().Err(err).Msg("http shutdown error")
				}
			}
			if runWorker {
				svc.Deps.Pool.Stop()
			}
			close(done)
		}()

		select {
		case <-done:
			log.Info().Msg("shut down gracefully")
		case <-time.After(shutdownTimeout):
			log.Warn().Msg("shutdown timed out, forcing exit")
			os.Exit(1)
		}

		if !runAPI {
			os.Exit(0)
		}
	}()

	if runAPI {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Msg("starting http server")
		if err := svc.App.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	} else {
		select {}
	}
}
