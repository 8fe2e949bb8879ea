package sender

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/signer"
)

func (d *Deps) validUntil(cfg *Config, op *Operation) int64 {
	if op.ValidUntil > 0 {
		return op.ValidUntil
	}
	return d.Now().Add(cfg.ValidFor).Unix()
}

// realSigner must be the first step of every Send.
func (d *Deps) realSigner(ctx context.Context, wallet models.Wallet) (signer.Signer, error) {
	if d.Signers == nil {
		return nil, models.ErrSignerUnavailable
	}
	s, err := d.Signers.Signer(ctx, wallet)
	if err != nil {
		if errors.Is(err, models.ErrSignerUnavailable) {
			return nil, err
		}
		return nil, errors.Join(models.ErrSignerUnavailable, err)
	}
	return s, nil
}

// checkPinned refuses to send anything other than what was estimated.
func (d *Deps) checkPinned(est *Estimation, op *Operation) error {
	if est == nil {
		return errors.Join(models.ErrEstimationStale, errors.New("missing estimation"))
	}
	if !bytes.Equal(est.operation, op.digest()) {
		return errors.Join(models.ErrEstimationStale, errors.New("operation changed after estimation"))
	}
	if d.Now().Unix() >= est.Transfer.ValidUntil {
		return errors.Join(models.ErrEstimationStale, errors.New("estimation expired"))
	}
	return nil
}

// reencode rebuilds the estimated transfer and checks it is bit for bit the same.
func (d *Deps) reencode(wallet models.Wallet, est *Estimation) (models.UnsignedTransfer, error) {
	unsigned, err := d.Encoder.Encode(wallet, est.Transfer.Seqno, est.Transfer.ValidUntil, est.Messages)
	if err != nil {
		return unsigned, err
	}
	if !bytes.Equal(unsigned.Hash, est.Transfer.Hash) {
		return unsigned, errors.Join(models.ErrEstimationStale, fmt.Errorf("transfer hash mismatch for wallet %s", wallet.ID))
	}
	return unsigned, nil
}

func failSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
