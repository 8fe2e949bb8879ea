package sender

import (
	"context"
	"errors"
	"time"

	"github.com/toncenter/ton-dispatch-go/models"
)

// MultisigSender turns an operation of a multisig account into an order proposal.
type MultisigSender struct {
	deps *Deps
	ttl  time.Duration
}

func (m *MultisigSender) Estimate(ctx context.Context, op Operation) (est *Estimation, err error) {
	ctx, span := tracer.Start(ctx, "sender.Multisig.Estimate")
	defer func() { failSpan(span, err); span.End() }()

	proposal, err := m.deps.Proposer.PrepareProposal(ctx, op.Wallet, op.Messages, m.ttl)
	if err != nil {
		return nil, err
	}
	return &Estimation{
		Choice:    Multisig(m.ttl),
		Fee:       proposal.Estimation.Fee,
		Transfer:  proposal.Estimation.Transfer,
		Messages:  op.Messages,
		Proposal:  proposal,
		operation: op.digest(),
	}, nil
}

func (m *MultisigSender) Send(ctx context.Context, est *Estimation, op Operation) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "sender.Multisig.Send")
	defer func() { failSpan(span, err); span.End() }()

	if err := m.deps.checkPinned(est, &op); err != nil {
		return nil, err
	}
	if est.Proposal == nil {
		return nil, errors.Join(models.ErrEstimationStale, errors.New("estimation without order proposal"))
	}
	if est.Proposal.Order.Expired(m.deps.Now()) {
		return nil, models.ErrOrderExpired
	}
	order, err := m.deps.Proposer.SubmitProposal(ctx, est.Proposal)
	if err != nil {
		return nil, err
	}
	return &Result{Choice: est.Choice, Order: order, Hash: est.Proposal.Hash, Boc: est.Proposal.Boc}, nil
}
