package sender

import (
	"crypto/sha256"
	"encoding/json"
	"math/big"

	"github.com/toncenter/ton-dispatch-go/models"
)

type OperationKind string

const (
	OpTransfer OperationKind = "transfer"
	OpSwap     OperationKind = "swap"
	OpNft      OperationKind = "nft"
	// OpConnect is a transaction requested by a connected app.
	OpConnect OperationKind = "connect"
)

// Operation is what the wallet is asked to send.
type Operation struct {
	Kind   OperationKind `json:"kind"`
	Wallet models.Wallet `json:"wallet"`
	// Asset is empty for the native coin, else the jetton master being moved.
	Asset models.AccountAddress `json:"asset,omitempty"`
	// AssetAmount is the jetton amount being moved.
	AssetAmount *big.Int            `json:"asset_amount,omitempty"`
	Messages    []models.OutMessage `json:"messages"`
	// ValidUntil pins the expiry requested by an app. Zero means the sender default.
	ValidUntil   int64  `json:"valid_until,omitempty"`
	BatteryToken string `json:"-"`
}

// batteryToken is the token of the operation, else the one configured for the wallet.
func (o *Operation) batteryToken() string {
	if o.BatteryToken != "" {
		return o.BatteryToken
	}
	return o.Wallet.BatteryToken
}

func (o *Operation) IsNative() bool {
	return o.Asset == ""
}

// NativeAmount is the sum of coins attached to the messages.
func (o *Operation) NativeAmount() *big.Int {
	total := new(big.Int)
	for _, msg := range o.Messages {
		if msg.Amount != nil {
			total.Add(total, msg.Amount)
		}
	}
	return total
}

// digest identifies the content of an operation between estimate and send.
func (o *Operation) digest() []byte {
	raw, _ := json.Marshal(struct {
		Wallet      string                `json:"wallet"`
		Kind        OperationKind         `json:"kind"`
		Asset       models.AccountAddress `json:"asset"`
		AssetAmount *big.Int              `json:"asset_amount"`
		Messages    []models.OutMessage   `json:"messages"`
		ValidUntil  int64                 `json:"valid_until"`
	}{o.Wallet.ID, o.Kind, o.Asset, o.AssetAmount, o.Messages, o.ValidUntil})
	sum := sha256.Sum256(raw)
	return sum[:]
}

// Estimation is a dry run of an operation, pinned to the seqno and expiry it was computed for.
type Estimation struct {
	Choice Choice `json:"choice"`
	// Fee is paid in FeeAsset, the native coin when empty.
	Fee      *big.Int                `json:"fee"`
	FeeAsset models.AccountAddress   `json:"fee_asset,omitempty"`
	Transfer models.UnsignedTransfer `json:"transfer"`
	Messages []models.OutMessage     `json:"messages"`
	Proposal *Proposal               `json:"proposal,omitempty"`

	operation []byte
}

// Result is the outcome of a committed operation.
type Result struct {
	Choice Choice `json:"choice"`
	Hash   string `json:"hash,omitempty"`
	// Boc is the signed external message as delivered.
	Boc   []byte        `json:"boc,omitempty"`
	Order *models.Order `json:"order,omitempty"`
}

// Proposal is a multisig order ready to be proposed from a signer wallet.
type Proposal struct {
	Order      *models.Order `json:"order"`
	Operation  Operation     `json:"-"`
	Estimation *Estimation   `json:"-"`
	// Boc and Hash describe the proposing message once submitted.
	Boc  []byte `json:"-"`
	Hash string `json:"-"`
}
