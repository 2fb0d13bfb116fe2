package main

import (
	"go.uber.org/zap"

	"clearchat/internal/config"
	"clearchat/internal/service/relay"
	"clearchat/internal/utils/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}

	r := relay.NewRelay()
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal("relay stopped", zap.Error(err))
	}
}
