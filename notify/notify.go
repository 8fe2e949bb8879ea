package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/toncenter/ton-dispatch-go/models"
)

type Settings struct {
	Endpoint string
	// DeviceToken identifies this installation at the push service.
	DeviceToken string
	Timeout     time.Duration
}

// Client subscribes connected apps to push notifications for a wallet.
type Client struct {
	endpoint string
	device   string
	timeout  time.Duration
}

func New(settings Settings) *Client {
	if settings.Timeout <= 0 {
		settings.Timeout = 5 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(settings.Endpoint, "/"),
		device:   settings.DeviceToken,
		timeout:  settings.Timeout,
	}
}

type subscription struct {
	ClientID string `json:"client_id"`
	Device   string `json:"device,omitempty"`
	Account  string `json:"account,omitempty"`
	AppURL   string `json:"app_url,omitempty"`
}

func (c *Client) post(ctx context.Context, path string, req subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	agent := fiber.Post(c.endpoint + path)
	agent.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	agent.Body(body)
	agent.Timeout(timeout)
	code, resp, errs := agent.Bytes()
	if len(errs) > 0 {
		return errs[0]
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("push service responded with status %d: %s", code, resp)
	}
	return nil
}

// Subscribe asks the push service to notify about bridge events of a session.
func (c *Client) Subscribe(ctx context.Context, session models.Session, account models.AccountAddress) error {
	return c.post(ctx, "/subscribe", subscription{
		ClientID: session.ClientSessionID,
		Device:   c.device,
		Account:  account.Lower(),
		AppURL:   session.Manifest.URL,
	})
}

func (c *Client) Unsubscribe(ctx context.Context, clientSessionID string) error {
	return c.post(ctx, "/unsubscribe", subscription{ClientID: clientSessionID, Device: c.device})
}
