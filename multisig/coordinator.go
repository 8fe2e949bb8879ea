package multisig

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/toncenter/ton-dispatch-go/chain"
	"github.com/toncenter/ton-dispatch-go/indexer"
	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/sender"
)

var tracer = otel.Tracer("github.com/toncenter/ton-dispatch-go/multisig")

// OrderEncoder builds the messages a signer sends to a multisig and its orders.
type OrderEncoder interface {
	NewOrderBody(queryID uint64, orderSeqno uint64, isSigner bool, index int, expiresAt int64, actions []models.OutMessage) ([]byte, error)
	ApproveBody(queryID uint64, signerIndex int) []byte
	Describe(actions []models.OutMessage) ([]models.OrderAction, error)
}

// Indexer reads multisig contracts and their orders as indexed on chain.
type Indexer interface {
	Order(ctx context.Context, addr models.AccountAddress) (*models.Order, error)
	OrderBySeqno(ctx context.Context, multisig models.AccountAddress, seqno uint64) (*models.Order, error)
	MultisigAccount(ctx context.Context, addr models.AccountAddress) (*models.MultisigAccount, error)
	OrderExecution(ctx context.Context, multisig models.AccountAddress, orderSeqno uint64) (*indexer.Execution, error)
}

type WalletDirectory interface {
	Wallet(id string) (models.Wallet, error)
}

type Config struct {
	// ProposeAmount is attached to new_order, ApproveAmount to approve. Excess is returned.
	ProposeAmount *big.Int
	ApproveAmount *big.Int
	PollInterval  time.Duration
	PollAttempts  int
}

func (c *Config) withDefaults() {
	if c.ProposeAmount == nil {
		c.ProposeAmount = big.NewInt(200_000_000)
	}
	if c.ApproveAmount == nil {
		c.ApproveAmount = big.NewInt(100_000_000)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 60
	}
}

type Deps struct {
	Encoder OrderEncoder
	Indexer Indexer
	Wallets WalletDirectory
	// Sender delivers messages from the signer wallet, normally the external sender.
	Sender sender.Sender
	Store  *Store
	Logger *logrus.Logger
	Now    func() time.Time
}

// Coordinator proposes and approves multisig orders from a local signer wallet.
type Coordinator struct {
	cfg  Config
	deps Deps
}

func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	cfg.withDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Coordinator{cfg: cfg, deps: deps}
}

func queryID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

func failSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// signerOf resolves the local wallet that acts for a multisig account.
func (c *Coordinator) signerOf(wallet models.Wallet) (models.Wallet, error) {
	if !wallet.IsMultisig() {
		return models.Wallet{}, errors.Join(models.ErrBadRequest, fmt.Errorf("wallet %s is not a multisig account", wallet.ID))
	}
	if wallet.SignerWalletID == "" {
		return models.Wallet{}, errors.Join(models.ErrSignerUnavailable, fmt.Errorf("multisig %s has no signer wallet", wallet.ID))
	}
	signerWallet, err := c.deps.Wallets.Wallet(wallet.SignerWalletID)
	if err != nil {
		return models.Wallet{}, errors.Join(models.ErrSignerUnavailable, err)
	}
	return signerWallet, nil
}

// PrepareProposal encodes a new order and estimates the message proposing it.
func (c *Coordinator) PrepareProposal(ctx context.Context, wallet models.Wallet, actions []models.OutMessage, ttl time.Duration) (p *sender.Proposal, err error) {
	ctx, span := tracer.Start(ctx, "multisig.PrepareProposal")
	defer func() { failSpan(span, err); span.End() }()
	span.SetAttributes(attribute.String("wallet", wallet.ID))

	now := c.deps.Now()
	validUntil := now.Add(ttl).Unix()
	if validUntil <= now.Unix() {
		return nil, models.ErrOrderExpired
	}
	if len(actions) == 0 {
		return nil, errors.Join(models.ErrBadRequest, errors.New("order without actions"))
	}
	signerWallet, err := c.signerOf(wallet)
	if err != nil {
		return nil, err
	}
	account, err := c.deps.Indexer.MultisigAccount(ctx, wallet.Address)
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}

	index, isSigner := account.SignerIndex(signerWallet.Address)
	if !isSigner {
		if !account.CanPropose(signerWallet.Address) {
			return nil, models.ErrNotSigner
		}
		for i, p := range account.Proposers {
			if p == signerWallet.Address {
				index = i
			}
		}
	}

	described, err := c.deps.Encoder.Describe(actions)
	if err != nil {
		return nil, errors.Join(models.ErrBadRequest, err)
	}
	body, err := c.deps.Encoder.NewOrderBody(queryID(), account.NextOrderSeqno, isSigner, index, validUntil, actions)
	if err != nil {
		return nil, errors.Join(models.ErrBadRequest, err)
	}

	op := sender.Operation{
		Kind:   sender.OpTransfer,
		Wallet: signerWallet,
		Messages: []models.OutMessage{{
			Destination: wallet.Address,
			Amount:      new(big.Int).Set(c.cfg.ProposeAmount),
			Body:        body,
			Bounce:      true,
			Mode:        3,
		}},
	}
	est, err := c.deps.Sender.Estimate(ctx, op)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		MultisigAddress: wallet.Address,
		OrderSeqno:      account.NextOrderSeqno,
		Actions:         described,
		ValidUntil:      validUntil,
		Signers:         account.Signers,
		Threshold:       account.Threshold,
		State:           models.OrderPending,
	}
	if isSigner {
		order.Approvals = []int{index}
	}
	return &sender.Proposal{Order: order, Operation: op, Estimation: est}, nil
}

// SubmitProposal sends an estimated proposal and records the order locally.
func (c *Coordinator) SubmitProposal(ctx context.Context, proposal *sender.Proposal) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "multisig.SubmitProposal")
	defer func() { failSpan(span, err); span.End() }()

	if proposal == nil || proposal.Order == nil {
		return nil, errors.Join(models.ErrBadRequest, errors.New("empty proposal"))
	}
	if proposal.Order.Expired(c.deps.Now()) {
		return nil, models.ErrOrderExpired
	}
	res, err := c.deps.Sender.Send(ctx, proposal.Estimation, proposal.Operation)
	if err != nil {
		return nil, err
	}
	proposal.Boc, proposal.Hash = res.Boc, res.Hash
	order = proposal.Order
	log := c.deps.Logger.WithFields(logrus.Fields{
		"multisig": order.MultisigAddress,
		"seqno":    order.OrderSeqno,
		"hash":     res.Hash,
	})
	log.Info("Order proposed")

	if c.deps.Store != nil {
		stored, err := c.deps.Store.Merge(ctx, order)
		if err != nil {
			log.WithError(err).Warn("Failed to record proposed order")
		} else {
			order = stored
		}
	}
	return order, nil
}

// ProposeOrder turns actions of a multisig account into a new order proposed by its signer wallet.
func (c *Coordinator) ProposeOrder(ctx context.Context, wallet models.Wallet, actions []models.OutMessage, ttl time.Duration) (*models.Order, error) {
	proposal, err := c.PrepareProposal(ctx, wallet, actions, ttl)
	if err != nil {
		return nil, err
	}
	return c.SubmitProposal(ctx, proposal)
}

// Order returns the indexed order merged with approvals sent from here but not yet indexed.
func (c *Coordinator) Order(ctx context.Context, addr models.AccountAddress) (*models.Order, error) {
	order, err := c.deps.Indexer.Order(ctx, addr)
	if err != nil {
		return nil, err
	}
	if c.deps.Store == nil {
		return order, nil
	}
	merged, err := c.deps.Store.Merge(ctx, order)
	if err != nil {
		c.deps.Logger.WithError(err).WithField("order", addr).Warn("Failed to merge local order state")
		return order, nil
	}
	return merged, nil
}

// SignOrder approves an order with the signer wallet of the multisig account.
// It returns true once the approval is recorded. Approving twice is a no-op.
func (c *Coordinator) SignOrder(ctx context.Context, wallet models.Wallet, orderAddr models.AccountAddress) (ok bool, err error) {
	ctx, span := tracer.Start(ctx, "multisig.SignOrder")
	defer func() { failSpan(span, err); span.End() }()
	span.SetAttributes(attribute.String("order", string(orderAddr)))

	signerWallet, err := c.signerOf(wallet)
	if err != nil {
		return false, err
	}
	order, err := c.Order(ctx, orderAddr)
	if err != nil {
		return false, err
	}
	if order.MultisigAddress != "" && order.MultisigAddress != wallet.Address {
		return false, errors.Join(models.ErrBadRequest, fmt.Errorf("order %s belongs to another multisig", orderAddr))
	}
	account := models.MultisigAccount{Signers: order.Signers}
	index, isSigner := account.SignerIndex(signerWallet.Address)
	if !isSigner {
		return false, models.ErrNotSigner
	}
	if order.HasApproval(index) {
		return true, nil
	}
	if order.Terminal() {
		return false, models.ErrOrderFinalized
	}
	if order.Expired(c.deps.Now()) {
		return false, models.ErrOrderExpired
	}

	op := sender.Operation{
		Kind:   sender.OpTransfer,
		Wallet: signerWallet,
		Messages: []models.OutMessage{{
			Destination: orderAddr,
			Amount:      new(big.Int).Set(c.cfg.ApproveAmount),
			Body:        c.deps.Encoder.ApproveBody(queryID(), index),
			Bounce:      true,
			Mode:        3,
		}},
	}
	est, err := c.deps.Sender.Estimate(ctx, op)
	if err != nil {
		return false, err
	}
	// The approval message is not cancellable once signing starts.
	res, err := c.deps.Sender.Send(context.WithoutCancel(ctx), est, op)
	if err != nil {
		return false, err
	}
	c.deps.Logger.WithFields(logrus.Fields{
		"order":  orderAddr,
		"signer": index,
		"hash":   res.Hash,
	}).Info("Order approved")

	if _, err := order.RecordApproval(index); err != nil {
		return false, err
	}
	if c.deps.Store != nil {
		if _, err := c.deps.Store.Merge(ctx, order); err != nil {
			c.deps.Logger.WithError(err).WithField("order", orderAddr).Warn("Failed to record approval")
		}
	}
	return true, nil
}

// OrderEstimation is the effect of an existing order.
// Realized is set when the effect comes from the execution trace.
type OrderEstimation struct {
	Order      *models.Order      `json:"order"`
	Realized   bool               `json:"realized"`
	Success    bool               `json:"success"`
	TraceID    string             `json:"trace_id,omitempty"`
	Transfers  []indexer.Transfer `json:"transfers"`
	Executable bool               `json:"executable"`
	Expired    bool               `json:"expired"`
}

// EstimateExistingOrder reports what an order did once executed, or what it would do now.
func (c *Coordinator) EstimateExistingOrder(ctx context.Context, orderAddr models.AccountAddress) (est *OrderEstimation, err error) {
	ctx, span := tracer.Start(ctx, "multisig.EstimateExistingOrder")
	defer func() { failSpan(span, err); span.End() }()

	order, err := c.Order(ctx, orderAddr)
	if err != nil {
		return nil, err
	}
	now := c.deps.Now()
	est = &OrderEstimation{
		Order:      order,
		Executable: order.Executable(now),
		Expired:    order.Expired(now),
	}
	if order.Terminal() {
		exec, err := c.deps.Indexer.OrderExecution(ctx, order.MultisigAddress, order.OrderSeqno)
		switch {
		case err == nil:
			est.Realized = true
			est.Success = exec.Success
			est.TraceID = exec.TraceID
			est.Transfers = exec.Transfers
			return est, nil
		case !errors.Is(err, models.ErrNotFound):
			return nil, errors.Join(models.ErrEstimationFailed, err)
		}
	}
	est.Success = true
	est.Transfers = pendingTransfers(order)
	return est, nil
}

// pendingTransfers describes the order actions as if executed now.
func pendingTransfers(order *models.Order) []indexer.Transfer {
	transfers := make([]indexer.Transfer, 0, len(order.Actions))
	for _, action := range order.Actions {
		t := indexer.Transfer{
			Type:        action.Type,
			Source:      order.MultisigAddress,
			Destination: action.Destination,
			Amount:      action.Value,
			Success:     true,
		}
		switch action.Type {
		case chain.ActionJettonTransfer:
			// Destination is the sender's jetton wallet, the asset is resolved by the indexer after execution.
			t.Destination = action.Recipient
			t.Amount = action.JettonAmount
		case chain.ActionNftTransfer:
			t.Asset = action.Destination
			t.Destination = action.Recipient
			t.Amount = "1"
		}
		transfers = append(transfers, t)
	}
	return transfers
}
