package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// StatusError is a non-2xx answer of a relay service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay responded with status %d: %s", e.Code, e.Body)
}

func timeoutFor(ctx context.Context, limit time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < limit {
		return time.Until(deadline), nil
	}
	return limit, nil
}

func do(ctx context.Context, agent *fiber.Agent, limit time.Duration, result any) error {
	timeout, err := timeoutFor(ctx, limit)
	if err != nil {
		return err
	}
	agent.Timeout(timeout)
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return errs[0]
	}
	if code < 200 || code >= 300 {
		return &StatusError{Code: code, Body: string(body)}
	}
	if result == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, result)
}

func jsonAgent(agent *fiber.Agent, req any) (*fiber.Agent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	agent.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	agent.Body(body)
	return agent, nil
}
