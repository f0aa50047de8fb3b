package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/windowpet/companiond/api/types"
	"github.com/windowpet/companiond/internal/coordinator"
	"github.com/windowpet/companiond/internal/keypool"
	"github.com/windowpet/companiond/internal/stats"
)

// Start runs the HTTP surface of the companion core: signal intake for the
// watcher collaborators, an outcome-message stream for the shell, and
// read-only diagnostics. Blocks until the server stops.
func Start(ctx context.Context, cfg types.AppConfiguration, coord *coordinator.Coordinator, pool *keypool.Pool, collector *stats.Collector) error {
	e := echo.New()
	e.HideBanner = true

	switch strings.ToLower(cfg.GetString("log_level", "info")) {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "warn":
		e.Logger.SetLevel(log.WARN)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	default:
		e.Logger.SetLevel(log.INFO)
	}

	healthMetrics := NewHealthMetrics()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(APIKeyAuthMiddleware(cfg))
	e.Use(HealthMetricsMiddleware(healthMetrics))

	// Health check endpoints (no auth required)
	e.GET(HealthCheckPath, Healthz())
	e.GET(ReadinessCheckPath, Readyz(coord, pool, healthMetrics))

	if cfg.GetBool("profiling_enabled", false) {
		e.Logger.Info("Enabling pprof endpoints")
		pprof.Register(e)
	}

	e.POST("/signal", emitSignal(coord))

	messages := e.Group("/messages")
	messages.GET("/recent", recentMessages(coord))
	messages.GET("/stream", streamMessages(coord))

	e.GET("/keys/health", keyHealth(pool))
	e.GET("/coordinator/stats", coordinatorStats(coord))
	e.GET("/stats", rawStats(collector))

	go func() {
		<-ctx.Done()
		if err := e.Close(); err != nil {
			e.Logger.Error("Failed to close Echo server: ", err)
		}
	}()

	listenAddress := cfg.ListenAddress()
	e.Logger.Info(fmt.Sprintf("Starting server on %s", listenAddress))
	return e.Start(listenAddress)
}
