//go:build js && wasm

// Command relaymark-worker runs the exact same proxy.Server as relaymarkd,
// behind a Cloudflare Workers entry point instead of net/http.ListenAndServe
// — the transcoder itself is runtime-agnostic.
package main

import (
	"strconv"

	"github.com/syumai/workers"
	"github.com/syumai/workers/cloudflare"

	"github.com/relaymark/relaymark/internal/config"
	"github.com/relaymark/relaymark/internal/logger"
	"github.com/relaymark/relaymark/internal/proxy"
)

func main() {
	log := logger.New()

	cfg := config.Config{
		Port:          3000,
		LogEnabled:    cloudflare.Getenv("LOG_ENABLED") == "true",
		LogDir:        cloudflare.Getenv("LOG_DIR"),
		AllowLocalNet: cloudflare.Getenv("ALLOW_LOCAL_NET") == "true",
		MetricsPort:   9464,
	}
	if rps, err := strconv.ParseFloat(cloudflare.Getenv("RATE_LIMIT_RPS"), 64); err == nil {
		cfg.RateLimitRPS = rps
	}
	if burst, err := strconv.Atoi(cloudflare.Getenv("RATE_LIMIT_BURST")); err == nil {
		cfg.RateLimitBurst = burst
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "./logs"
	}

	srv := proxy.New(cfg, log)
	workers.Serve(srv)
}
