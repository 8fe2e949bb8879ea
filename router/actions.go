package router

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/ton-dispatch-go/chain"
	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/rpc"
	"github.com/toncenter/ton-dispatch-go/sender"
)

// millisThreshold separates valid_until values sent in milliseconds from seconds.
const millisThreshold = 100_000_000_000

func (r *Router) lookup(requestID string, kind models.RequestKind) (*pending, error) {
	p, ok := r.mailbox.get(requestID)
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, models.ErrNotFound)
	}
	if p.request.Method != kind {
		return nil, badRequest("request %s is a %s request", requestID, p.request.Method)
	}
	return p, nil
}

func (r *Router) takeKind(requestID string, kinds ...models.RequestKind) (*pending, error) {
	p, ok := r.mailbox.take(requestID)
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, models.ErrNotFound)
	}
	for _, kind := range kinds {
		if p.request.Method == kind {
			return p, nil
		}
	}
	r.putBack(p)
	return nil, badRequest("request %s is a %s request", requestID, p.request.Method)
}

func (r *Router) putBack(p *pending) {
	if !r.mailbox.restore(p) {
		r.emit(UpdateRemoved, p.request)
	}
}

// Choices lists the sender strategies for a transaction request, the preferred one first.
func (r *Router) Choices(ctx context.Context, requestID string) ([]sender.Choice, error) {
	p, err := r.lookup(requestID, models.KindSendTransaction)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withCancel(ctx, p.ctx)
	defer cancel()
	return r.deps.Selector.Choices(ctx, *p.op)
}

// withCancel derives a context that also ends when the request is superseded.
func withCancel(ctx, request context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(request, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// Estimate dry runs a transaction request with one strategy. It is cancelled when the request is superseded.
func (r *Router) Estimate(ctx context.Context, requestID string, choice sender.Choice) (*sender.Estimation, error) {
	p, err := r.lookup(requestID, models.KindSendTransaction)
	if err != nil {
		return nil, err
	}
	estCtx, cancel := withCancel(ctx, p.ctx)
	defer cancel()
	s, err := r.deps.Selector.Resolve(estCtx, *p.op, choice)
	if err != nil {
		return nil, err
	}
	est, err := s.Estimate(estCtx, *p.op)
	if err != nil {
		if p.ctx.Err() != nil {
			return nil, errors.Join(models.ErrUserRejected, errors.New("request was superseded"))
		}
		return nil, err
	}
	p.setEstimation(est)
	return est, nil
}

// Confirm signs and answers a request. Once signing starts the caller's cancellation is ignored.
// An error means nothing was signed or sent.
func (r *Router) Confirm(ctx context.Context, requestID string, choice sender.Choice) (*Confirmation, error) {
	if p, ok := r.mailbox.get(requestID); ok && p.request.Method == models.KindConnect {
		return r.ApproveConnect(ctx, requestID)
	}
	p, err := r.takeKind(requestID, models.KindSendTransaction, models.KindSignData)
	if err != nil {
		return nil, err
	}
	if p.request.Method == models.KindSignData {
		return r.confirmSignData(ctx, p)
	}
	return r.confirmTransaction(ctx, p, choice)
}

func (r *Router) confirmTransaction(ctx context.Context, p *pending, choice sender.Choice) (*Confirmation, error) {
	log := r.deps.Logger.WithFields(logrus.Fields{"request": p.request.ID, "wallet": p.request.WalletID, "choice": choice.Kind})
	s, err := r.deps.Selector.Resolve(ctx, *p.op, choice)
	if err != nil {
		r.putBack(p)
		return nil, err
	}
	est := p.estimation(choice.Kind)
	if est == nil || est.Choice != choice {
		if est, err = s.Estimate(ctx, *p.op); err != nil {
			r.putBack(p)
			return nil, err
		}
	}

	detached := context.WithoutCancel(ctx)
	res, err := s.Send(detached, est, *p.op)
	if err != nil {
		log.WithError(err).Warn("Transaction was not sent")
		p.resetEstimations()
		r.putBack(p)
		return nil, err
	}
	p.cancel()
	r.emit(UpdateRemoved, p.request)
	log = log.WithField("hash", res.Hash)
	log.Info("Transaction sent")

	payload, err := rpc.Success(rpc.ID(p.request.RPCID), base64.StdEncoding.EncodeToString(res.Boc))
	delivered := r.deliver(detached, p.session, string(p.request.Method), payload, err, log)
	return &Confirmation{Hash: res.Hash, Delivered: delivered}, nil
}

// Decline answers a request with a user rejection.
func (r *Router) Decline(ctx context.Context, requestID string) error {
	p, ok := r.mailbox.get(requestID)
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, models.ErrNotFound)
	}
	if p.request.Method == models.KindConnect {
		return r.RejectConnect(ctx, requestID)
	}
	p, err := r.takeKind(requestID, models.KindSendTransaction, models.KindSignData)
	if err != nil {
		return err
	}
	p.cancel()
	r.emit(UpdateRemoved, p.request)
	payload, err := rpc.Error(rpc.ID(p.request.RPCID), rpc.CodeUserRejected, "Reject request")
	return r.reply(ctx, p.session, string(p.request.Method), payload, err)
}

// operation validates a sendTransaction request of an app and converts it for the sender.
func (r *Router) operation(wallet models.Wallet, tx *models.TransactionRequest) (*sender.Operation, error) {
	validUntil := tx.ValidUntil
	if validUntil > millisThreshold {
		validUntil /= 1000
	}
	if validUntil != 0 && validUntil <= r.deps.Now().Unix() {
		return nil, badRequest("request expired at %d", validUntil)
	}
	if tx.Network != "" && wallet.Network != "" && tx.Network != wallet.Network {
		return nil, badRequest("request is for network %s", tx.Network)
	}
	own, err := models.ParseAccountAddress(string(wallet.Address))
	if err != nil {
		return nil, err
	}
	if tx.From != "" {
		from, err := models.ParseAccountAddress(tx.From)
		if err != nil {
			return nil, badRequest("invalid from: %v", err)
		}
		if from != own {
			return nil, badRequest("request is for another wallet")
		}
	}
	if len(tx.Messages) == 0 || len(tx.Messages) > rpc.MaxMessages {
		return nil, badRequest("request must have 1 to %d messages, got %d", rpc.MaxMessages, len(tx.Messages))
	}

	messages := make([]models.OutMessage, 0, len(tx.Messages))
	for i, m := range tx.Messages {
		addr, err := models.ParseAddr(m.Address)
		if err != nil {
			return nil, badRequest("message %d: %v", i, err)
		}
		amount, ok := new(big.Int).SetString(m.Amount, 10)
		if !ok || amount.Sign() < 0 {
			return nil, badRequest("message %d: invalid amount %q", i, m.Amount)
		}
		out := models.OutMessage{
			Destination: models.FormatAddress(addr),
			Amount:      amount,
			Bounce:      addr.IsBounceable(),
			Mode:        chain.DefaultSendMode,
		}
		if m.Payload != "" {
			body, err := chain.ParseBOC(m.Payload)
			if err != nil {
				return nil, badRequest("message %d: invalid payload: %v", i, err)
			}
			out.Body = body.ToBOC()
		}
		if m.StateInit != "" {
			init, err := chain.ParseBOC(m.StateInit)
			if err != nil {
				return nil, badRequest("message %d: invalid state init: %v", i, err)
			}
			out.StateInit = init.ToBOC()
			if _, err := chain.ParseStateInit(out.StateInit); err != nil {
				return nil, badRequest("message %d: %v", i, err)
			}
		}
		messages = append(messages, out)
	}
	return &sender.Operation{
		Kind:       sender.OpConnect,
		Wallet:     wallet,
		Messages:   messages,
		ValidUntil: validUntil,
	}, nil
}
