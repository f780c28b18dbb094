package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"senryu/internal/platform/otel"
	"senryu/internal/server"
)

func main() {
	port := flag.String("port", "", "listen port, overrides PORT")
	flag.Parse()

	if err := run(*port); err != nil {
		log.Printf("server exited: %v", err)
		os.Exit(1)
	}
}

func run(port string) error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != "" {
		cfg.Port = strings.TrimPrefix(port, ":")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, cfg.OTelServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	app, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	return app.Run(ctx)
}
