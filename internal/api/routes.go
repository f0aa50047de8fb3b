package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/windowpet/companiond/api/types"
	"github.com/windowpet/companiond/internal/coordinator"
	"github.com/windowpet/companiond/internal/keypool"
	"github.com/windowpet/companiond/internal/stats"
)

// emitSignal accepts one trigger event from a watcher collaborator.
//
// The request body is a SignalRequest. Unknown signal types are rejected with
// 400 so a misconfigured watcher notices; everything else is enqueued and
// acknowledged immediately, the generate cycle runs asynchronously.
func emitSignal(coord *coordinator.Coordinator) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.SignalRequest{}
		if err := c.Bind(&req); err != nil {
			return err
		}

		if !req.Type.IsValid() {
			return c.JSON(http.StatusBadRequest, types.SignalError{
				Error: fmt.Sprintf("unknown signal type: %s", req.Type),
			})
		}

		source := req.Source
		if source == "" {
			source = "unknown"
		}

		coord.Signal(req.Type, req.Payload, source)

		return c.JSON(http.StatusOK, types.SignalResponse{
			Accepted:   true,
			QueueDepth: coord.Stats().QueueDepth,
		})
	}
}

// recentMessages returns up to ?limit= recent outcome messages, newest first.
func recentMessages(coord *coordinator.Coordinator) func(c echo.Context) error {
	return func(c echo.Context) error {
		limit := 20
		if s := c.QueryParam("limit"); s != "" {
			if v, err := strconv.Atoi(s); err == nil && v > 0 {
				limit = v
			}
		}
		return c.JSON(http.StatusOK, coord.History().Recent(limit))
	}
}

// streamMessages forwards each OutcomeMessage as a server-sent event until
// the client hangs up. One coordinator listener per connected client.
func streamMessages(coord *coordinator.Coordinator) func(c echo.Context) error {
	return func(c echo.Context) error {
		resp := c.Response()
		resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		resp.Header().Set("Cache-Control", "no-cache")
		resp.Header().Set("Connection", "keep-alive")
		resp.WriteHeader(http.StatusOK)
		resp.Flush()

		// Buffered so a stalled client skips messages instead of blocking
		// the coordinator's notification fan-out.
		events := make(chan types.OutcomeMessage, 8)
		id := coord.AddListener(func(msg types.OutcomeMessage) {
			select {
			case events <- msg:
			default:
				logrus.Debug("Dropping streamed message for a slow client")
			}
		})
		defer coord.RemoveListener(id)

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-events:
				data, err := json.Marshal(msg)
				if err != nil {
					logrus.Errorf("Failed to marshal streamed message: %v", err)
					continue
				}
				if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
					return nil
				}
				resp.Flush()
			}
		}
	}
}

// keyHealth returns the credential pool health report. Pure read.
func keyHealth(pool *keypool.Pool) func(c echo.Context) error {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, pool.Report())
	}
}

// coordinatorStats returns coordinator counters and gate state. Pure read.
func coordinatorStats(coord *coordinator.Coordinator) func(c echo.Context) error {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, coord.Stats())
	}
}

// rawStats returns the raw per-source counters collected since boot.
func rawStats(collector *stats.Collector) func(c echo.Context) error {
	return func(c echo.Context) error {
		data, err := collector.Json()
		if err != nil {
			return err
		}
		return c.JSONBlob(http.StatusOK, data)
	}
}
