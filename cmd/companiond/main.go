package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/windowpet/companiond/internal/api"
	"github.com/windowpet/companiond/internal/config"
	"github.com/windowpet/companiond/internal/coordinator"
	"github.com/windowpet/companiond/internal/genai"
	"github.com/windowpet/companiond/internal/keypool"
	"github.com/windowpet/companiond/internal/stats"
)

func main() {
	cfg := config.ReadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keys := cfg.GetStringSlice("companion_api_keys", []string{})
	if len(keys) == 0 {
		logrus.Fatal("No companion API keys configured; set COMPANION_API_KEYS")
	}

	pool := keypool.New(keys,
		keypool.WithMaxFailCount(cfg.GetInt("max_fail_count", keypool.DefaultMaxFailCount)),
		keypool.WithHealthCheckCooldown(cfg.GetDuration("health_check_cooldown", 300)),
	)

	collector := stats.StartCollector(uint(cfg.GetInt("stats_buf_size", 128)))

	gen := genai.NewClient(
		cfg.GetString("genai_base_url", ""),
		cfg.GetString("genai_model", ""),
		cfg.GetDuration("genai_timeout", 30),
	)

	policy := genai.PolicyForPool(len(keys))
	policy.RetryDelay = time.Duration(cfg.GetInt("retry_delay_ms", 800)) * time.Millisecond
	invoker := genai.NewInvoker(pool, gen, policy, collector)

	coord := coordinator.New(coordinator.Config{
		Cooldown:          cfg.GetDuration("cooldown", 240),
		EmergencyCooldown: cfg.GetDuration("emergency_cooldown", 600),
		MaxQueueSize:      cfg.GetInt("max_queue_size", coordinator.DefaultMaxQueueSize),
		TickInterval:      cfg.GetDuration("tick_interval", 30),
		City:              cfg.GetString("city", ""),
		HistorySize:       cfg.GetInt("message_history_size", 0),
		HistoryMaxAge:     cfg.GetDuration("message_history_max_age", 3600),
	}, invoker, collector)

	go coord.Run(ctx)

	if err := api.Start(ctx, cfg, coord, pool, collector); err != nil {
		logrus.Infof("Server stopped: %v", err)
	}
}
