package sender

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/relay"
	"github.com/toncenter/ton-dispatch-go/signer"
	"github.com/toncenter/ton-dispatch-go/toncenter"
)

var tracer = otel.Tracer("github.com/toncenter/ton-dispatch-go/sender")

// Encoder builds and signs wallet transfers.
type Encoder interface {
	Encode(wallet models.Wallet, seqno uint32, validUntil int64, msgs []models.OutMessage) (models.UnsignedTransfer, error)
	Sign(ctx context.Context, wallet models.Wallet, unsigned models.UnsignedTransfer, s signer.Signer) ([]byte, error)
	Message(msg models.OutMessage) ([]byte, error)
}

// Chain reads wallet state, simulates and broadcasts messages.
type Chain interface {
	WalletState(ctx context.Context, addr models.AccountAddress) (*toncenter.WalletState, error)
	EstimateExternal(ctx context.Context, boc []byte) (*toncenter.FeeEstimate, error)
	SendBoc(ctx context.Context, boc []byte) (string, error)
}

type BatteryService interface {
	Balance(ctx context.Context, token string) (*relay.BatteryBalance, error)
	Emulate(ctx context.Context, token string, boc []byte) (*relay.BatteryEmulation, error)
	Send(ctx context.Context, token string, boc []byte) error
}

type GaslessService interface {
	Config(ctx context.Context) (*relay.GaslessConfig, error)
	Estimate(ctx context.Context, master models.AccountAddress, wallet models.Wallet, messages [][]byte) (*relay.SignRawParams, error)
	Send(ctx context.Context, wallet models.Wallet, boc []byte) error
}

// JettonBalances resolves the jetton balance of an owner.
type JettonBalances interface {
	JettonWallet(ctx context.Context, owner, master models.AccountAddress) (models.AccountAddress, string, error)
}

// OrderProposer turns an operation of a multisig account into an order.
type OrderProposer interface {
	PrepareProposal(ctx context.Context, wallet models.Wallet, actions []models.OutMessage, ttl time.Duration) (*Proposal, error)
	SubmitProposal(ctx context.Context, proposal *Proposal) (*models.Order, error)
}

// Sender estimates and commits an operation with one strategy.
type Sender interface {
	Estimate(ctx context.Context, op Operation) (*Estimation, error)
	Send(ctx context.Context, est *Estimation, op Operation) (*Result, error)
}

type Config struct {
	BatteryTransfer bool
	BatterySwap     bool
	BatteryNft      bool
	BatteryConnect  bool
	// BatteryMinReserve is the least reserved battery balance that keeps battery selectable.
	BatteryMinReserve *big.Int
	// GaslessMinBalance is the native balance under which gasless becomes the default.
	GaslessMinBalance *big.Int
	MultisigTTL       time.Duration
	ValidFor          time.Duration
}

func (c *Config) withDefaults() {
	if c.BatteryMinReserve == nil {
		c.BatteryMinReserve = big.NewInt(0)
	}
	if c.GaslessMinBalance == nil {
		c.GaslessMinBalance = big.NewInt(0)
	}
	if c.MultisigTTL <= 0 {
		c.MultisigTTL = 7 * 24 * time.Hour
	}
	if c.ValidFor <= 0 {
		c.ValidFor = 5 * time.Minute
	}
}

// AccountState is what the selector needs to know about the wallet.
// Battery and Gasless are nil when the services are unavailable.
type AccountState struct {
	Balance *big.Int
	Battery *relay.BatteryBalance
	Gasless *relay.GaslessConfig
}

type Deps struct {
	Chain    Chain
	Encoder  Encoder
	Signers  signer.Provider
	Battery  BatteryService
	Gasless  GaslessService
	Jettons  JettonBalances
	Proposer OrderProposer
	Logger   *logrus.Logger
	Now      func() time.Time
}

// Selector picks and builds senders for operations.
type Selector struct {
	cfg  Config
	deps Deps

	external *ExternalSender
}

func NewSelector(cfg Config, deps Deps) *Selector {
	cfg.withDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	s := &Selector{cfg: cfg, deps: deps}
	s.external = &ExternalSender{cfg: &s.cfg, deps: &s.deps}
	return s
}

// External returns the sender paying fees from the wallet itself.
func (s *Selector) External() *ExternalSender {
	return s.external
}

func (s *Selector) batteryEnabled(kind OperationKind) bool {
	switch kind {
	case OpTransfer:
		return s.cfg.BatteryTransfer
	case OpSwap:
		return s.cfg.BatterySwap
	case OpNft:
		return s.cfg.BatteryNft
	case OpConnect:
		return s.cfg.BatteryConnect
	}
	return false
}

// AvailableChoices lists the strategies usable for op, the preferred one first.
func (s *Selector) AvailableChoices(op Operation, state AccountState) []Choice {
	if op.Wallet.IsMultisig() {
		return []Choice{Multisig(s.cfg.MultisigTTL)}
	}
	if op.Wallet.IsHardware() {
		return []Choice{External()}
	}

	batteryAvailable := s.batteryEnabled(op.Kind) &&
		!(op.Kind == OpTransfer && op.IsNative()) &&
		op.batteryToken() != "" &&
		state.Battery != nil
	if batteryAvailable && (state.Battery.Reserved == nil || state.Battery.Reserved.Cmp(s.cfg.BatteryMinReserve) < 0) {
		batteryAvailable = false
	}

	choices := []Choice{External()}
	if batteryAvailable {
		choices = []Choice{Battery(), External()}
	}

	if !op.IsNative() && state.Gasless.Supports(op.Asset) {
		gasless := Gasless(op.Asset)
		if state.Balance != nil && state.Balance.Cmp(s.cfg.GaslessMinBalance) < 0 {
			choices = append([]Choice{gasless}, choices...)
		} else {
			choices = append(choices, gasless)
		}
	}
	return choices
}

// State collects the account state used by AvailableChoices. Relay failures only hide their choices.
func (s *Selector) State(ctx context.Context, op Operation) (AccountState, error) {
	var state AccountState
	if op.Wallet.IsMultisig() {
		return state, nil
	}
	wallet, err := s.deps.Chain.WalletState(ctx, op.Wallet.Address)
	if err != nil {
		return state, errors.Join(models.ErrEstimationFailed, err)
	}
	state.Balance = wallet.Balance

	log := s.deps.Logger.WithField("wallet", op.Wallet.ID)
	if s.deps.Battery != nil && op.batteryToken() != "" {
		if state.Battery, err = s.deps.Battery.Balance(ctx, op.batteryToken()); err != nil {
			log.WithError(err).Warn("Battery balance is unavailable")
		}
	}
	if s.deps.Gasless != nil && !op.IsNative() {
		if state.Gasless, err = s.deps.Gasless.Config(ctx); err != nil {
			log.WithError(err).Warn("Gasless config is unavailable")
		}
	}
	return state, nil
}

func (s *Selector) Choices(ctx context.Context, op Operation) ([]Choice, error) {
	state, err := s.State(ctx, op)
	if err != nil {
		return nil, err
	}
	return s.AvailableChoices(op, state), nil
}

// Resolve returns the sender for choice once it is checked against the choices available for op.
// A choice the selector would not offer is a bad request.
func (s *Selector) Resolve(ctx context.Context, op Operation, choice Choice) (Sender, error) {
	if choice.Kind == ChoiceGasless {
		asset, err := models.ParseAccountAddress(string(choice.Asset))
		if err != nil {
			return nil, errors.Join(models.ErrBadRequest, fmt.Errorf("gasless fee asset: %w", err))
		}
		choice.Asset = asset
	}
	choices, err := s.Choices(ctx, op)
	if err != nil {
		return nil, err
	}
	if !offered(choices, choice) {
		return nil, errors.Join(models.ErrBadRequest, fmt.Errorf("sender choice %s is not available for wallet %s", choice.Kind, op.Wallet.ID))
	}
	return s.sender(choice)
}

func offered(choices []Choice, choice Choice) bool {
	for _, c := range choices {
		if c.Kind != choice.Kind {
			continue
		}
		if c.Kind == ChoiceGasless && c.Asset != choice.Asset {
			continue
		}
		return true
	}
	return false
}

// sender returns the strategy implementing choice.
func (s *Selector) sender(choice Choice) (Sender, error) {
	switch choice.Kind {
	case ChoiceExternal:
		return s.external, nil
	case ChoiceBattery:
		if s.deps.Battery == nil {
			return nil, errors.New("battery service is not configured")
		}
		return &BatterySender{cfg: &s.cfg, deps: &s.deps}, nil
	case ChoiceGasless:
		if s.deps.Gasless == nil {
			return nil, errors.New("gasless relay is not configured")
		}
		if choice.Asset == "" {
			return nil, errors.New("gasless choice without fee asset")
		}
		return &GaslessSender{cfg: &s.cfg, deps: &s.deps, asset: choice.Asset}, nil
	case ChoiceMultisig:
		if s.deps.Proposer == nil {
			return nil, errors.New("multisig coordinator is not configured")
		}
		ttl := choice.TTL
		if ttl <= 0 {
			ttl = s.cfg.MultisigTTL
		}
		return &MultisigSender{deps: &s.deps, ttl: ttl}, nil
	}
	return nil, fmt.Errorf("unknown sender choice %s", choice.Kind)
}
