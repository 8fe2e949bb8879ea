package toncenter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/ton-dispatch-go/models"
)

// APIError is a failed toncenter call.
type APIError struct {
	Code    int
	Message string
}

func (e APIError) Error() string {
	return fmt.Sprintf("toncenter error %d: %s", e.Code, e.Message)
}

type Settings struct {
	Endpoint string
	ApiKey   string
	Timeout  time.Duration
}

// Client talks to ton-http-api v2.
type Client struct {
	settings Settings
}

func New(settings Settings) *Client {
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	settings.Endpoint = strings.TrimRight(settings.Endpoint, "/")
	return &Client{settings: settings}
}

type envelope struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
	Code   int             `json:"code"`
}

// numeric accepts both quoted and bare integers.
type numeric string

func (n *numeric) UnmarshalJSON(b []byte) error {
	*n = numeric(strings.Trim(string(b), `"`))
	return nil
}

func (n numeric) Big() (*big.Int, error) {
	if n == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(string(n), 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse number %q", string(n))
	}
	return v, nil
}

func (c *Client) url(method string, params url.Values) (string, error) {
	if len(c.settings.Endpoint) == 0 {
		return "", APIError{Code: 500, Message: "ton-http-api endpoint is not specified"}
	}
	baseUrl, err := url.Parse(c.settings.Endpoint)
	if err != nil {
		return "", APIError{Code: 500, Message: err.Error()}
	}
	baseUrl.Path += "/" + method
	if params == nil {
		params = url.Values{}
	}
	if len(c.settings.ApiKey) > 0 {
		params.Add("api_key", c.settings.ApiKey)
	}
	baseUrl.RawQuery = params.Encode()
	return baseUrl.String(), nil
}

func (c *Client) timeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := c.settings.Timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	return timeout, nil
}

func (c *Client) call(ctx context.Context, agent *fiber.Agent, result any) error {
	timeout, err := c.timeout(ctx)
	if err != nil {
		return err
	}
	agent.Timeout(timeout)
	_, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return APIError{Code: 500, Message: errs[0].Error()}
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return APIError{Code: 500, Message: err.Error()}
	}
	if !env.Ok {
		code := env.Code
		if code == 0 {
			code = 500
		}
		return APIError{Code: code, Message: env.Error}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return APIError{Code: 500, Message: err.Error()}
	}
	return nil
}

func (c *Client) post(ctx context.Context, method string, req any, result any) error {
	endpoint, err := c.url(method, nil)
	if err != nil {
		return err
	}
	reqBody, err := json.Marshal(req)
	if err != nil {
		return APIError{Code: 500, Message: fmt.Sprintf("failed to send request: %s", err.Error())}
	}
	agent := fiber.Post(endpoint)
	agent.Add(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	agent.Body(reqBody)
	return c.call(ctx, agent, result)
}

type WalletState struct {
	Balance  *big.Int
	Seqno    uint32
	Deployed bool
	Status   string
}

type walletInformation struct {
	Wallet       bool    `json:"wallet"`
	Balance      numeric `json:"balance"`
	AccountState string  `json:"account_state"`
	WalletType   string  `json:"wallet_type"`
	Seqno        int64   `json:"seqno"`
}

func (c *Client) WalletState(ctx context.Context, addr models.AccountAddress) (*WalletState, error) {
	params := url.Values{}
	params.Add("address", string(addr))
	endpoint, err := c.url("getWalletInformation", params)
	if err != nil {
		return nil, err
	}
	var info walletInformation
	if err := c.call(ctx, fiber.Get(endpoint), &info); err != nil {
		return nil, err
	}
	if !info.Wallet && info.AccountState != "uninitialized" {
		return nil, APIError{Code: 409, Message: "not a wallet"}
	}
	balance, err := info.Balance.Big()
	if err != nil {
		return nil, APIError{Code: 500, Message: err.Error()}
	}
	return &WalletState{
		Balance:  balance,
		Seqno:    uint32(info.Seqno),
		Deployed: info.AccountState == "active",
		Status:   info.AccountState,
	}, nil
}

type Fees struct {
	InFwdFee   int64 `json:"in_fwd_fee"`
	StorageFee int64 `json:"storage_fee"`
	GasFee     int64 `json:"gas_fee"`
	FwdFee     int64 `json:"fwd_fee"`
}

func (f Fees) Sum() int64 {
	return f.InFwdFee + f.StorageFee + f.GasFee + f.FwdFee
}

type FeeEstimate struct {
	SourceFees      Fees   `json:"source_fees"`
	DestinationFees []Fees `json:"destination_fees"`
}

// Total is the fee paid by the wallet for its own transaction and the forwarded messages.
func (e *FeeEstimate) Total() *big.Int {
	total := e.SourceFees.Sum()
	for _, f := range e.DestinationFees {
		total += f.Sum()
	}
	return big.NewInt(total)
}

type estimateFeeRequest struct {
	Address      string `json:"address"`
	Body         string `json:"body"`
	InitCode     string `json:"init_code,omitempty"`
	InitData     string `json:"init_data,omitempty"`
	IgnoreChksig bool   `json:"ignore_chksig"`
}

// EstimateExternal simulates an external message without checking its signature.
func (c *Client) EstimateExternal(ctx context.Context, boc []byte) (*FeeEstimate, error) {
	root, err := cell.FromBOC(boc)
	if err != nil {
		return nil, fmt.Errorf("invalid external message: %w", err)
	}
	var ext tlb.ExternalMessage
	if err := tlb.LoadFromCell(&ext, root.BeginParse()); err != nil {
		return nil, fmt.Errorf("invalid external message: %w", err)
	}
	req := estimateFeeRequest{
		Address:      string(models.FormatAddress(ext.DstAddr)),
		Body:         base64.StdEncoding.EncodeToString(ext.Body.ToBOC()),
		IgnoreChksig: true,
	}
	if ext.StateInit != nil {
		if ext.StateInit.Code != nil {
			req.InitCode = base64.StdEncoding.EncodeToString(ext.StateInit.Code.ToBOC())
		}
		if ext.StateInit.Data != nil {
			req.InitData = base64.StdEncoding.EncodeToString(ext.StateInit.Data.ToBOC())
		}
	}
	var estimate FeeEstimate
	if err := c.post(ctx, "estimateFee", req, &estimate); err != nil {
		return nil, err
	}
	return &estimate, nil
}

type sendBocResult struct {
	Hash string `json:"hash"`
}

// SendBoc broadcasts a signed message and returns its hash.
func (c *Client) SendBoc(ctx context.Context, boc []byte) (string, error) {
	var res sendBocResult
	err := c.post(ctx, "sendBocReturnHash", map[string]string{"boc": base64.StdEncoding.EncodeToString(boc)}, &res)
	if err != nil {
		var apiErr APIError
		if errors.As(err, &apiErr) {
			return "", errors.Join(models.ErrBroadcastFailed, err)
		}
		return "", err
	}
	return res.Hash, nil
}
