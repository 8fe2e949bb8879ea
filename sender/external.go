package sender

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/signer"
)

const nativeAsset = "TON"

// ExternalSender signs with the wallet key and pays fees from the wallet balance.
type ExternalSender struct {
	cfg  *Config
	deps *Deps
}

func (e *ExternalSender) Estimate(ctx context.Context, op Operation) (est *Estimation, err error) {
	ctx, span := tracer.Start(ctx, "sender.External.Estimate")
	defer func() { failSpan(span, err); span.End() }()
	span.SetAttributes(attribute.String("wallet", op.Wallet.ID))

	state, err := e.deps.Chain.WalletState(ctx, op.Wallet.Address)
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}
	unsigned, err := e.deps.Encoder.Encode(op.Wallet, state.Seqno, e.deps.validUntil(e.cfg, &op), op.Messages)
	if err != nil {
		return nil, errors.Join(models.ErrBadRequest, err)
	}
	boc, err := e.deps.Encoder.Sign(ctx, op.Wallet, unsigned, signer.NewEstimation(op.Wallet.PublicKey))
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}
	fees, err := e.deps.Chain.EstimateExternal(ctx, boc)
	if err != nil {
		return nil, errors.Join(models.ErrEstimationFailed, err)
	}
	fee := fees.Total()

	required := op.NativeAmount()
	required.Add(required, fee)
	if err := models.CheckBalance(nativeAsset, required, state.Balance); err != nil {
		return nil, err
	}
	return &Estimation{
		Choice:    External(),
		Fee:       fee,
		Transfer:  unsigned,
		Messages:  op.Messages,
		operation: op.digest(),
	}, nil
}

func (e *ExternalSender) Send(ctx context.Context, est *Estimation, op Operation) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "sender.External.Send")
	defer func() { failSpan(span, err); span.End() }()

	key, err := e.deps.realSigner(ctx, op.Wallet)
	if err != nil {
		return nil, err
	}
	if err := e.deps.checkPinned(est, &op); err != nil {
		return nil, err
	}
	unsigned, err := e.deps.reencode(op.Wallet, est)
	if err != nil {
		return nil, err
	}
	boc, err := e.deps.Encoder.Sign(ctx, op.Wallet, unsigned, key)
	if err != nil {
		return nil, err
	}
	hash, err := e.deps.Chain.SendBoc(ctx, boc)
	if err != nil {
		if errors.Is(err, models.ErrBroadcastFailed) {
			return nil, err
		}
		return nil, errors.Join(models.ErrBroadcastFailed, err)
	}
	if hash == "" {
		hash = hex.EncodeToString(unsigned.Hash)
	}
	e.deps.Logger.WithFields(logrus.Fields{"wallet": op.Wallet.ID, "seqno": unsigned.Seqno, "hash": hash}).Info("Transfer broadcast")
	return &Result{Choice: External(), Hash: hash, Boc: boc}, nil
}
