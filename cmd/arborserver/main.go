package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbor/internal/config"
	"arbor/internal/server"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "arbor.yml", "configuration file for the growth server")
	flag.Parse()

	if written, err := config.FromEnv(configPath); err != nil {
		log.Fatalf("write config from environment: %v", err)
	} else if written {
		log.Printf("configuration from environment written to %s", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := config.WriteDefault(configPath); err != nil {
				log.Fatalf("write default config: %v", err)
			}
			log.Printf("no configuration found, default configuration written to %s", configPath)
			cfg, err = config.Load(configPath)
		}
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	s, err := server.New(cfg, configPath)
	if err != nil {
		log.Fatalf("initialise growth server: %v", err)
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if err := s.Run(ctx); err != nil {
		log.Fatalf("growth server exited: %v", err)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			return
		}

		// Ensure the process terminates if shutdown stalls.
		time.AfterFunc(10*time.Second, func() {
			log.Printf("forced shutdown after timeout")
			os.Exit(1)
		})
	}()

	return ctx, cancel
}
