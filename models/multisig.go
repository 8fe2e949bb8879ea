package models

import (
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

type OrderState string

const (
	OrderPending  OrderState = "pending"
	OrderSent     OrderState = "sent_for_execution"
	OrderExecuted OrderState = "executed"
	OrderFailed   OrderState = "failed"
)

func (s OrderState) rank() int {
	switch s {
	case OrderSent:
		return 1
	case OrderExecuted, OrderFailed:
		return 2
	default:
		return 0
	}
}

type MultisigAccount struct {
	Address        AccountAddress   `json:"address" msgpack:"address"`
	NextOrderSeqno uint64           `json:"next_order_seqno" msgpack:"next_order_seqno"`
	Threshold      int              `json:"threshold" msgpack:"threshold"`
	Signers        []AccountAddress `json:"signers" msgpack:"signers"`
	Proposers      []AccountAddress `json:"proposers" msgpack:"proposers"`
}

func (m *MultisigAccount) SignerIndex(addr AccountAddress) (int, bool) {
	idx := slices.Index(m.Signers, addr)
	return idx, idx >= 0
}

func (m *MultisigAccount) CanPropose(addr AccountAddress) bool {
	_, ok := m.SignerIndex(addr)
	return ok || slices.Contains(m.Proposers, addr)
}

type OrderAction struct {
	Destination AccountAddress `json:"destination" msgpack:"destination"`
	Value       string         `json:"value" msgpack:"value"`
	Body        []byte         `json:"body,omitempty" msgpack:"body"`
	SendMode    uint8          `json:"send_mode" msgpack:"send_mode"`
	Type        string         `json:"type" msgpack:"type"`
	// JettonAmount and Recipient are filled for recognized jetton and nft transfers.
	JettonAmount string         `json:"jetton_amount,omitempty" msgpack:"jetton_amount"`
	Recipient    AccountAddress `json:"recipient,omitempty" msgpack:"recipient"`
}

// Order is a multisig proposal collecting approvals.
type Order struct {
	Address         AccountAddress   `json:"address" msgpack:"address"`
	MultisigAddress AccountAddress   `json:"multisig_address" msgpack:"multisig_address"`
	OrderSeqno      uint64           `json:"order_seqno" msgpack:"order_seqno"`
	Actions         []OrderAction    `json:"actions" msgpack:"actions"`
	ValidUntil      int64            `json:"valid_until" msgpack:"valid_until"`
	Signers         []AccountAddress `json:"signers" msgpack:"signers"`
	Threshold       int              `json:"threshold" msgpack:"threshold"`
	Approvals       []int            `json:"approvals" msgpack:"approvals"`
	State           OrderState       `json:"state" msgpack:"state"`
}

func (o *Order) Expired(now time.Time) bool {
	return now.Unix() >= o.ValidUntil
}

func (o *Order) Executable(now time.Time) bool {
	return len(o.Approvals) >= o.Threshold && !o.Expired(now)
}

func (o *Order) Terminal() bool {
	return o.State.rank() > 0
}

func (o *Order) HasApproval(signerIndex int) bool {
	return slices.Contains(o.Approvals, signerIndex)
}

// RecordApproval adds a signer index. Duplicates are accepted without change.
func (o *Order) RecordApproval(signerIndex int) (bool, error) {
	if o.HasApproval(signerIndex) {
		return false, nil
	}
	if o.Terminal() {
		return false, ErrOrderFinalized
	}
	o.Approvals = append(o.Approvals, signerIndex)
	slices.Sort(o.Approvals)
	return true, nil
}

// Merge folds another view of the same order in. Approvals only grow and state only advances.
func (o *Order) Merge(other *Order) {
	if other == nil {
		return
	}
	set := mapset.NewThreadUnsafeSet(o.Approvals...)
	set.Append(other.Approvals...)
	merged := set.ToSlice()
	slices.Sort(merged)
	o.Approvals = merged

	if other.State.rank() > o.State.rank() {
		o.State = other.State
	}
	if len(o.Actions) == 0 {
		o.Actions = other.Actions
	}
	if len(o.Signers) == 0 {
		o.Signers = other.Signers
	}
	if o.Threshold == 0 {
		o.Threshold = other.Threshold
	}
	if o.ValidUntil == 0 {
		o.ValidUntil = other.ValidUntil
	}
}
