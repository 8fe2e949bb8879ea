package relay

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/toncenter/ton-dispatch-go/models"
)

type GaslessSettings struct {
	Endpoint string
	Timeout  time.Duration
}

// GaslessClient talks to the relay that accepts fees in jettons.
type GaslessClient struct {
	endpoint string
	timeout  time.Duration
}

func NewGasless(settings GaslessSettings) *GaslessClient {
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	return &GaslessClient{endpoint: strings.TrimRight(settings.Endpoint, "/"), timeout: settings.Timeout}
}

type GaslessConfig struct {
	RelayAddress     string
	SupportedJettons mapset.Set[models.AccountAddress]
}

func (c *GaslessConfig) Supports(asset models.AccountAddress) bool {
	return c != nil && c.SupportedJettons.Contains(asset)
}

type gaslessConfig struct {
	RelayAddress string `json:"relay_address"`
	GasJettons   []struct {
		MasterID string `json:"master_id"`
	} `json:"gas_jettons"`
}

type Message struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Payload   string `json:"payload,omitempty"`
	StateInit string `json:"stateInit,omitempty"`
}

// SignRawParams are the messages the wallet must sign to let the relay pay its fees.
type SignRawParams struct {
	RelayAddress string    `json:"relay_address"`
	Commission   string    `json:"commission"`
	From         string    `json:"from"`
	ValidUntil   int64     `json:"valid_until"`
	Messages     []Message `json:"messages"`
	ProtocolName string    `json:"protocol_name"`
}

type estimateRequest struct {
	WalletAddress   string       `json:"wallet_address"`
	WalletPublicKey string       `json:"wallet_public_key"`
	Messages        []bocRequest `json:"messages"`
}

type sendRequest struct {
	WalletPublicKey string `json:"wallet_public_key"`
	Boc             string `json:"boc"`
}

func (c *GaslessClient) Config(ctx context.Context) (*GaslessConfig, error) {
	var raw gaslessConfig
	if err := do(ctx, fiber.Get(c.endpoint+"/v2/gasless/config"), c.timeout, &raw); err != nil {
		return nil, err
	}
	cfg := &GaslessConfig{
		RelayAddress:     raw.RelayAddress,
		SupportedJettons: mapset.NewSet[models.AccountAddress](),
	}
	for _, jetton := range raw.GasJettons {
		if addr, err := models.ParseAccountAddress(jetton.MasterID); err == nil {
			cfg.SupportedJettons.Add(addr)
		}
	}
	return cfg, nil
}

// Estimate returns the messages to sign when paying fees with jetton master.
func (c *GaslessClient) Estimate(ctx context.Context, master models.AccountAddress, wallet models.Wallet, messages [][]byte) (*SignRawParams, error) {
	req := estimateRequest{
		WalletAddress:   string(wallet.Address),
		WalletPublicKey: hex.EncodeToString(wallet.PublicKey),
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, bocRequest{Boc: base64.StdEncoding.EncodeToString(msg)})
	}
	agent, err := jsonAgent(fiber.Post(c.endpoint+"/v2/gasless/estimate/"+string(master)), req)
	if err != nil {
		return nil, err
	}
	var params SignRawParams
	if err := do(ctx, agent, c.timeout, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func (c *GaslessClient) Send(ctx context.Context, wallet models.Wallet, boc []byte) error {
	agent, err := jsonAgent(fiber.Post(c.endpoint+"/v2/gasless/send"), sendRequest{
		WalletPublicKey: hex.EncodeToString(wallet.PublicKey),
		Boc:             base64.StdEncoding.EncodeToString(boc),
	})
	if err != nil {
		return err
	}
	return do(ctx, agent, c.timeout, nil)
}
