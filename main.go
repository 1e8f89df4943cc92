package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"signalbot/config"
	"signalbot/internal/bot"
	"signalbot/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.LoggingConfig.Level, cfg.LoggingConfig.JSONFormat)
	log := logging.Component("main")

	b, err := bot.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	if err := b.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("bot exited with error")
	}
}
