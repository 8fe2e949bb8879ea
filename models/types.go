package models

import (
	"fmt"
	"math/big"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
)

type AccountAddress string

type Network string

const (
	NetworkMainnet Network = "-239"
	NetworkTestnet Network = "-3"
)

type WalletKind string

const (
	WalletStandard WalletKind = "standard"
	WalletLedger   WalletKind = "ledger"
	WalletMultisig WalletKind = "multisig"
)

// Wallet is a local account the dispatcher can act for.
type Wallet struct {
	ID          string         `json:"id" msgpack:"id"`
	Address     AccountAddress `json:"address" msgpack:"address"`
	PublicKey   []byte         `json:"public_key" msgpack:"public_key"`
	Kind        WalletKind     `json:"kind" msgpack:"kind"`
	Network     Network        `json:"network" msgpack:"network"`
	SubwalletID uint32         `json:"subwallet_id" msgpack:"subwallet_id"`
	StateInit   string         `json:"state_init,omitempty" msgpack:"state_init"`
	// SignerWalletID names the local standard wallet that signs for a multisig account.
	SignerWalletID string `json:"signer_wallet_id,omitempty" msgpack:"signer_wallet_id"`
	// BatteryToken authenticates the wallet at the battery service.
	BatteryToken string `json:"-" msgpack:"-"`
}

func (w Wallet) IsHardware() bool {
	return w.Kind == WalletLedger
}

func (w Wallet) IsMultisig() bool {
	return w.Kind == WalletMultisig
}

// Wallets is the directory of local accounts keyed by id.
type Wallets map[string]Wallet

func (w Wallets) Wallet(id string) (Wallet, error) {
	wallet, ok := w[id]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet %q: %w", id, ErrNotFound)
	}
	return wallet, nil
}

type Manifest struct {
	Name    string `json:"name" msgpack:"name"`
	URL     string `json:"url" msgpack:"url"`
	IconURL string `json:"iconUrl" msgpack:"icon_url"`
}

// Domain returns the host part of the manifest url.
func (m Manifest) Domain() string {
	return DomainOf(m.URL)
}

func DomainOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}

// ValidDomain reports whether a domain looks like a public host name.
func ValidDomain(domain string) bool {
	return domain != "" && strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

type SessionKeyPair struct {
	PublicKey []byte `json:"public_key" msgpack:"public_key"`
	SecretKey []byte `json:"-" msgpack:"secret_key"`
}

// Session is a persisted TON Connect connection between a wallet and a remote app.
type Session struct {
	ClientSessionID string         `json:"client_session_id" msgpack:"client_session_id"`
	KeyPair         SessionKeyPair `json:"key_pair" msgpack:"key_pair"`
	WalletID        string         `json:"wallet_id" msgpack:"wallet_id"`
	Manifest        Manifest       `json:"manifest" msgpack:"manifest"`
	WebViewURL      string         `json:"webview_url,omitempty" msgpack:"webview_url"`
	Items           []string       `json:"items" msgpack:"items"`
	CreatedAt       int64          `json:"created_at" msgpack:"created_at"`
}

type RequestKind string

const (
	KindConnect         RequestKind = "connect"
	KindSendTransaction RequestKind = "sendTransaction"
	KindSignData        RequestKind = "signData"
)

type ConnectItem struct {
	Name    string `json:"name"`
	Payload string `json:"payload,omitempty"`
}

type ConnectRequest struct {
	ManifestURL string        `json:"manifestUrl"`
	Items       []ConnectItem `json:"items"`
}

func (r *ConnectRequest) ProofPayload() (string, bool) {
	for _, item := range r.Items {
		if item.Name == "ton_proof" {
			return item.Payload, true
		}
	}
	return "", false
}

type TransactionMessage struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Payload   string `json:"payload,omitempty"`
	StateInit string `json:"stateInit,omitempty"`
}

type TransactionRequest struct {
	ValidUntil int64                `json:"valid_until"`
	Network    Network              `json:"network,omitempty"`
	From       string               `json:"from,omitempty"`
	Messages   []TransactionMessage `json:"messages"`
}

type SignDataRequest struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Bytes  string `json:"bytes,omitempty"`
	Schema string `json:"schema,omitempty"`
	Cell   string `json:"cell,omitempty"`
	From   string `json:"from,omitempty"`
}

// PendingRequest is a decoded remote call waiting for the user.
type PendingRequest struct {
	ID              string              `json:"id"`
	RPCID           string              `json:"rpc_id"`
	Method          RequestKind         `json:"method"`
	WalletID        string              `json:"wallet_id"`
	ClientSessionID string              `json:"client_session_id"`
	Manifest        Manifest            `json:"manifest"`
	Transaction     *TransactionRequest `json:"transaction,omitempty"`
	SignData        *SignDataRequest    `json:"sign_data,omitempty"`
	Connect         *ConnectRequest     `json:"connect,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// OutMessage is an internal message a wallet is asked to send.
type OutMessage struct {
	Destination AccountAddress `json:"destination"`
	Amount      *big.Int       `json:"amount"`
	Body        []byte         `json:"body,omitempty"`
	StateInit   []byte         `json:"state_init,omitempty"`
	Bounce      bool           `json:"bounce"`
	Mode        uint8          `json:"mode"`
}

// ParseAccountAddress accepts user-friendly, url-safe and raw forms and returns the raw form.
func ParseAccountAddress(value string) (AccountAddress, error) {
	addr, err := ParseAddr(value)
	if err != nil {
		return "", err
	}
	return FormatAddress(addr), nil
}

func ParseAddr(value string) (*address.Address, error) {
	addr, err := address.ParseAddr(value)
	if err != nil {
		value_url := strings.Replace(value, "+", "-", -1)
		value_url = strings.Replace(value_url, "/", "_", -1)
		addr, err = address.ParseAddr(value_url)
	}
	if err != nil {
		addr, err = address.ParseRawAddr(value)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", value, err)
	}
	return addr, nil
}

// AccountAddressConverter normalizes addresses in query parameters. Invalid values are rejected by the parser.
func AccountAddressConverter(value string) reflect.Value {
	addr, err := ParseAccountAddress(value)
	if err != nil {
		return reflect.Value{}
	}
	return reflect.ValueOf(addr)
}

func FormatAddress(addr *address.Address) AccountAddress {
	return AccountAddress(fmt.Sprintf("%d:%X", addr.Workchain(), addr.Data()))
}

func (a AccountAddress) Addr() (*address.Address, error) {
	return address.ParseRawAddr(string(a))
}

// Lower returns the raw form in lower case, as TON Connect expects it.
func (a AccountAddress) Lower() string {
	return strings.ToLower(string(a))
}

// UnsignedTransfer is a wallet body pinned to a seqno and expiry, waiting for a signature.
type UnsignedTransfer struct {
	WalletID   string `json:"wallet_id"`
	Seqno      uint32 `json:"seqno"`
	ValidUntil int64  `json:"valid_until"`
	Body       []byte `json:"body"`
	Hash       []byte `json:"hash"`
}
