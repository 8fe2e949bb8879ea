package relay

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const authHeader = "X-TonConnect-Auth"

type BatterySettings struct {
	Endpoint string
	Timeout  time.Duration
}

// BatteryClient talks to the fee sponsorship service.
type BatteryClient struct {
	endpoint string
	timeout  time.Duration
}

func NewBattery(settings BatterySettings) *BatteryClient {
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	return &BatteryClient{endpoint: strings.TrimRight(settings.Endpoint, "/"), timeout: settings.Timeout}
}

type BatteryConfig struct {
	FundReceiver  string `json:"fund_receiver"`
	ExcessAccount string `json:"excess_account"`
}

// BatteryBalance is the sponsoring balance of a wallet in nanotons.
// Reserved is the part kept aside for network fees.
type BatteryBalance struct {
	Balance  *big.Int
	Reserved *big.Int
}

type batteryBalance struct {
	Balance  string `json:"balance"`
	Reserved string `json:"reserved"`
}

type BatteryEmulation struct {
	// Charge is the amount the battery will spend, in nanotons.
	Charge *big.Int
	// Covered reports whether the battery will sponsor this message.
	Covered bool
}

type batteryEmulation struct {
	Charge  string `json:"charge"`
	Covered bool   `json:"covered"`
}

type bocRequest struct {
	Boc string `json:"boc"`
}

func parseNano(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return v, nil
}

func (c *BatteryClient) Config(ctx context.Context) (*BatteryConfig, error) {
	var cfg BatteryConfig
	if err := do(ctx, fiber.Get(c.endpoint+"/config"), c.timeout, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *BatteryClient) Balance(ctx context.Context, token string) (*BatteryBalance, error) {
	agent := fiber.Get(c.endpoint + "/balance")
	agent.Set(authHeader, token)
	var raw batteryBalance
	if err := do(ctx, agent, c.timeout, &raw); err != nil {
		return nil, err
	}
	balance, err := parseNano(raw.Balance)
	if err != nil {
		return nil, err
	}
	reserved, err := parseNano(raw.Reserved)
	if err != nil {
		return nil, err
	}
	return &BatteryBalance{Balance: balance, Reserved: reserved}, nil
}

// Emulate asks the battery what sponsoring boc would cost.
func (c *BatteryClient) Emulate(ctx context.Context, token string, boc []byte) (*BatteryEmulation, error) {
	agent, err := jsonAgent(fiber.Post(c.endpoint+"/wallet/emulate"), bocRequest{Boc: base64.StdEncoding.EncodeToString(boc)})
	if err != nil {
		return nil, err
	}
	agent.Set(authHeader, token)
	var raw batteryEmulation
	if err := do(ctx, agent, c.timeout, &raw); err != nil {
		return nil, err
	}
	charge, err := parseNano(raw.Charge)
	if err != nil {
		return nil, err
	}
	return &BatteryEmulation{Charge: charge, Covered: raw.Covered}, nil
}

func (c *BatteryClient) Send(ctx context.Context, token string, boc []byte) error {
	agent, err := jsonAgent(fiber.Post(c.endpoint+"/wallet/message"), bocRequest{Boc: base64.StdEncoding.EncodeToString(boc)})
	if err != nil {
		return err
	}
	agent.Set(authHeader, token)
	return do(ctx, agent, c.timeout, nil)
}
