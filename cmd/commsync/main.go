package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"commsync/internal/app"
	"commsync/pkg/config"
	"commsync/pkg/shutdown"
)

func main() {
	// build metadata - set via ldflags during build/release
	var version = "dev"

	_ = godotenv.Load(".env")
	flags := config.ParseConfigFlags()

	cfgPath := config.ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// explicit flags win over config/env
	if flags.Set["addr"] {
		if h, p, err := net.SplitHostPort(flags.Addr); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = flags.Addr
		}
	}
	if flags.Set["feed"] {
		cfg.Feed.BaseURL = flags.FeedURL
	}

	source := "config"
	switch {
	case len(flags.Set) > 0:
		source = "flags"
	case envUsed:
		source = "env"
	}

	a, err := app.New(cfg, source, version)
	if err != nil {
		shutdown.Abort("startup failed", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server error", err)
	}
}
