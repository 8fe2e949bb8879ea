package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/toncenter/ton-dispatch-go/models"
)

const (
	MethodSendTransaction = "sendTransaction"
	MethodSignData        = "signData"
	MethodDisconnect      = "disconnect"

	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"

	ProtocolVersion = 2
	MaxMessages     = 4
)

// ID accepts both string and numeric request ids and always encodes as a string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("request id must be string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Request is the app to wallet envelope {id, method, params[]}.
type Request struct {
	ID     ID       `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type envelope struct {
	ID     *ID             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// DecodeRequest parses a request envelope. When id and method are readable but params are not,
// the request is still returned with a bad request error so it can be answered.
func DecodeRequest(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Request{}, errors.Join(models.ErrProtocol, err)
	}
	if env.ID == nil {
		return Request{}, errors.Join(models.ErrProtocol, errors.New("missing id"))
	}
	req := Request{ID: *env.ID, Method: env.Method}
	if req.Method == "" {
		return req, errors.Join(models.ErrProtocol, errors.New("empty method"))
	}
	params := bytes.TrimSpace(env.Params)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return req, nil
	}
	if err := json.Unmarshal(params, &req.Params); err != nil {
		return req, errors.Join(models.ErrBadRequest, fmt.Errorf("params must be an array of strings: %w", err))
	}
	return req, nil
}

// FirstParam returns params[0] or a bad request error.
func (r Request) FirstParam() (string, error) {
	if len(r.Params) == 0 {
		return "", errors.Join(models.ErrBadRequest, errors.New("params are empty"))
	}
	return r.Params[0], nil
}

type ErrorCode int

const (
	CodeUnknown            ErrorCode = 0
	CodeBadRequest         ErrorCode = 1
	CodeManifestNotFound   ErrorCode = 2
	CodeManifestContent    ErrorCode = 3
	CodeUnknownApp         ErrorCode = 100
	CodeUserRejected       ErrorCode = 300
	CodeMethodNotSupported ErrorCode = 400
)

type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type SuccessResponse struct {
	ID     ID  `json:"id"`
	Result any `json:"result"`
}

type ErrorResponse struct {
	ID    ID        `json:"id"`
	Error ErrorBody `json:"error"`
}

// WalletEvent is a wallet originated event (connect, connect_error, disconnect).
type WalletEvent struct {
	Event   string `json:"event"`
	ID      int64  `json:"id"`
	Payload any    `json:"payload"`
}

type Feature struct {
	Name        string   `json:"name"`
	MaxMessages int      `json:"maxMessages,omitempty"`
	Types       []string `json:"types,omitempty"`
}

type DeviceInfo struct {
	Platform           string `json:"platform"`
	AppName            string `json:"appName"`
	AppVersion         string `json:"appVersion"`
	MaxProtocolVersion int    `json:"maxProtocolVersion"`
	Features           []any  `json:"features"`
}

func DefaultDevice(appName, appVersion string) DeviceInfo {
	return DeviceInfo{
		Platform:           "linux",
		AppName:            appName,
		AppVersion:         appVersion,
		MaxProtocolVersion: ProtocolVersion,
		Features: []any{
			"SendTransaction",
			Feature{Name: "SendTransaction", MaxMessages: MaxMessages},
			Feature{Name: "SignData", Types: []string{"text", "binary"}},
		},
	}
}

type TonAddrItem struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	Network         string `json:"network"`
	PublicKey       string `json:"publicKey"`
	WalletStateInit string `json:"walletStateInit"`
}

type ProofDomain struct {
	LengthBytes uint32 `json:"lengthBytes"`
	Value       string `json:"value"`
}

type TonProof struct {
	Timestamp int64       `json:"timestamp"`
	Domain    ProofDomain `json:"domain"`
	Signature string      `json:"signature"`
	Payload   string      `json:"payload"`
}

type TonProofItem struct {
	Name  string   `json:"name"`
	Proof TonProof `json:"proof"`
}

type ConnectPayload struct {
	Items  []any      `json:"items"`
	Device DeviceInfo `json:"device"`
}

type SignDataResult struct {
	Signature string `json:"signature"`
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
	Domain    string `json:"domain"`
	Payload   any    `json:"payload"`
}
