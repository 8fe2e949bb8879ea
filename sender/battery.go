package sender

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/toncenter/ton-dispatch-go/chain"
	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/signer"
)

const batteryAsset = "battery"

// BatterySender lets the sponsorship service pay network fees.
type BatterySender struct {
	cfg  *Config
	deps *Deps
}

func (b *BatterySender) Estimate(ctx context.Context, op Operation) (est *Estimation, err error) {
	ctx, span := tracer.Start(ctx, "sender.Battery.Estimate")
	defer func() { failSpan(span, err); span.End() }()

	if op.batteryToken() == "" {
		return nil, errors.Join(models.ErrEstimationFailed, errors.New("no battery auth token"))
	}
	state, err := b.deps.Chain.WalletState(ctx, op.Wallet.Address)
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}
	if err := models.CheckBalance(nativeAsset, op.NativeAmount(), state.Balance); err != nil {
		return nil, err
	}
	unsigned, err := b.deps.Encoder.Encode(op.Wallet, state.Seqno, b.deps.validUntil(b.cfg, &op), op.Messages)
	if err != nil {
		return nil, errors.Join(models.ErrBadRequest, err)
	}
	boc, err := b.deps.Encoder.Sign(ctx, op.Wallet, unsigned, signer.NewEstimation(op.Wallet.PublicKey))
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}
	emulation, err := b.deps.Battery.Emulate(ctx, op.batteryToken(), boc)
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}
	if !emulation.Covered {
		return nil, errors.Join(models.ErrEstimationFailed, errors.New("battery does not cover this operation"))
	}
	balance, err := b.deps.Battery.Balance(ctx, op.batteryToken())
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}
	if err := models.CheckBalance(batteryAsset, emulation.Charge, balance.Balance); err != nil {
		return nil, err
	}
	return &Estimation{
		Choice:    Battery(),
		Fee:       emulation.Charge,
		Transfer:  unsigned,
		Messages:  op.Messages,
		operation: op.digest(),
	}, nil
}

func (b *BatterySender) Send(ctx context.Context, est *Estimation, op Operation) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "sender.Battery.Send")
	defer func() { failSpan(span, err); span.End() }()

	key, err := b.deps.realSigner(ctx, op.Wallet)
	if err != nil {
		return nil, err
	}
	if err := b.deps.checkPinned(est, &op); err != nil {
		return nil, err
	}
	unsigned, err := b.deps.reencode(op.Wallet, est)
	if err != nil {
		return nil, err
	}
	boc, err := b.deps.Encoder.Sign(ctx, op.Wallet, unsigned, key)
	if err != nil {
		return nil, err
	}
	if err := b.deps.Battery.Send(ctx, op.batteryToken(), boc); err != nil {
		return nil, errors.Join(models.ErrBroadcastFailed, err)
	}
	hash, err := chain.MessageHash(boc)
	if err != nil {
		return nil, err
	}
	return &Result{Choice: Battery(), Hash: hex.EncodeToString(hash), Boc: boc}, nil
}
