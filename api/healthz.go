package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const healthRedisTimeout = 2 * time.Second

type componentHealth struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type healthzResponse struct {
	OK         bool                       `json:"ok"`
	Now        int64                      `json:"now"`
	Components map[string]componentHealth `json:"components"`
}

// @summary Health check
// @description Checks Redis and the bridge subscription. A bridge with no sessions to follow is idle and healthy.
// @tags health
// @produce json
// @router /healthz [get]
func (s *Server) healthz(c *fiber.Ctx) error {
	resp := healthzResponse{
		OK:         true,
		Now:        s.now().Unix(),
		Components: make(map[string]componentHealth),
	}

	redisStatus := componentHealth{OK: true}
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthRedisTimeout)
		defer cancel()
		if err := s.redis.Ping(ctx); err != nil {
			redisStatus = componentHealth{Error: err.Error()}
		}
	}
	resp.Components["redis"] = redisStatus

	bridgeStatus := componentHealth{OK: true}
	if s.bridge != nil {
		switch {
		case s.bridge.Tracked() == 0:
			// Nothing to subscribe to until the first app connects.
			bridgeStatus.Status = "idle"
		case s.bridge.Connected():
			bridgeStatus.Status = "subscribed"
		default:
			bridgeStatus = componentHealth{Error: "not subscribed to the bridge"}
		}
	}
	resp.Components["bridge"] = bridgeStatus

	for _, comp := range resp.Components {
		if !comp.OK {
			resp.OK = false
		}
	}
	status := fiber.StatusOK
	if !resp.OK {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(resp)
}
