package sender

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/toncenter/ton-dispatch-go/chain"
	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/relay"
)

// GaslessSender pays network fees in a jetton through the relay.
type GaslessSender struct {
	cfg   *Config
	deps  *Deps
	asset models.AccountAddress
}

func relayMessages(params *relay.SignRawParams) ([]models.OutMessage, error) {
	msgs := make([]models.OutMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		addr, err := models.ParseAddr(m.Address)
		if err != nil {
			return nil, err
		}
		amount, ok := new(big.Int).SetString(m.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid relay amount %q", m.Amount)
		}
		msg := models.OutMessage{
			Destination: models.FormatAddress(addr),
			Amount:      amount,
			Bounce:      addr.IsBounceable(),
			Mode:        chain.DefaultSendMode,
		}
		if m.Payload != "" {
			if msg.Body, err = decodeBOC(m.Payload); err != nil {
				return nil, err
			}
		}
		if m.StateInit != "" {
			if msg.StateInit, err = decodeBOC(m.StateInit); err != nil {
				return nil, err
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func decodeBOC(value string) ([]byte, error) {
	if raw, err := hex.DecodeString(value); err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

func (g *GaslessSender) Estimate(ctx context.Context, op Operation) (est *Estimation, err error) {
	ctx, span := tracer.Start(ctx, "sender.Gasless.Estimate")
	defer func() { failSpan(span, err); span.End() }()

	state, err := g.deps.Chain.WalletState(ctx, op.Wallet.Address)
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}
	bocs := make([][]byte, 0, len(op.Messages))
	for _, msg := range op.Messages {
		boc, err := g.deps.Encoder.Message(msg)
		if err != nil {
			return nil, errors.Join(models.ErrBadRequest, err)
		}
		bocs = append(bocs, boc)
	}
	params, err := g.deps.Gasless.Estimate(ctx, g.asset, op.Wallet, bocs)
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}
	commission, ok := new(big.Int).SetString(params.Commission, 10)
	if !ok {
		return nil, errors.Join(models.ErrEstimationFailed, fmt.Errorf("invalid commission %q", params.Commission))
	}
	msgs, err := relayMessages(params)
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}

	if g.deps.Jettons != nil {
		_, balance, err := g.deps.Jettons.JettonWallet(ctx, op.Wallet.Address, g.asset)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, errors.Join(models.ErrEstimationFailed, err)
		}
		available, _ := new(big.Int).SetString(balance, 10)
		if available == nil {
			available = big.NewInt(0)
		}
		required := new(big.Int).Set(commission)
		if op.Asset == g.asset && op.AssetAmount != nil {
			required.Add(required, op.AssetAmount)
		}
		if err := models.CheckBalance(string(g.asset), required, available); err != nil {
			return nil, err
		}
	}

	validUntil := params.ValidUntil
	if validUntil == 0 {
		validUntil = g.deps.validUntil(g.cfg, &op)
	}
	unsigned, err := g.deps.Encoder.Encode(op.Wallet, state.Seqno, validUntil, msgs)
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}
	return &Estimation{
		Choice:    Gasless(g.asset),
		Fee:       commission,
		FeeAsset:  g.asset,
		Transfer:  unsigned,
		Messages:  msgs,
		operation: op.digest(),
	}, nil
}

func (g *GaslessSender) Send(ctx context.Context, est *Estimation, op Operation) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "sender.Gasless.Send")
	defer func() { failSpan(span, err); span.End() }()

	key, err := g.deps.realSigner(ctx, op.Wallet)
	if err != nil {
		return nil, err
	}
	if err := g.deps.checkPinned(est, &op); err != nil {
		return nil, err
	}
	unsigned, err := g.deps.reencode(op.Wallet, est)
	if err != nil {
		return nil, err
	}
	boc, err := g.deps.Encoder.Sign(ctx, op.Wallet, unsigned, key)
	if err != nil {
		return nil, err
	}
	if err := g.deps.Gasless.Send(ctx, op.Wallet, boc); err != nil {
		return nil, errors.Join(models.ErrBroadcastFailed, err)
	}
	hash, err := chain.MessageHash(boc)
	if err != nil {
		return nil, err
	}
	return &Result{Choice: Gasless(g.asset), Hash: hex.EncodeToString(hash), Boc: boc}, nil
}
