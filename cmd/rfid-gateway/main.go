package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/TagGuard/config"
)

func main() {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, opts, closeFn, err := buildGateway(ctx, cfg, defaultGatewayFactories())
	if err != nil {
		panic(err)
	}
	defer closeFn()

	if err := runGateway(ctx, opts, g); err != nil && err != context.Canceled {
		panic(err)
	}
}
