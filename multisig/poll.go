package multisig

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/ton-dispatch-go/models"
)

// poll calls check every PollInterval until it reports done, ctx ends or the attempts run out.
func (c *Coordinator) poll(ctx context.Context, log *logrus.Entry, check func() (bool, error)) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		done, err := check()
		switch {
		case err != nil && !errors.Is(err, models.ErrNotFound):
			if errors.Is(err, models.ErrOrderExpired) {
				return err
			}
			log.WithError(err).WithField("attempt", attempt).Warn("Order poll failed")
		case done:
			return nil
		}
		if attempt == c.cfg.PollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return models.ErrPollTimeout
}

// WaitDeployed waits until the indexer knows the order contract created by a proposal.
func (c *Coordinator) WaitDeployed(ctx context.Context, multisig models.AccountAddress, seqno uint64) (*models.Order, error) {
	log := c.deps.Logger.WithFields(logrus.Fields{"multisig": multisig, "seqno": seqno})
	var order *models.Order
	err := c.poll(ctx, log, func() (bool, error) {
		found, err := c.deps.Indexer.OrderBySeqno(ctx, multisig, seqno)
		if err != nil {
			return false, err
		}
		order = found
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if c.deps.Store != nil {
		if merged, err := c.deps.Store.Merge(ctx, order); err == nil {
			order = merged
		} else {
			log.WithError(err).Warn("Failed to merge deployed order")
		}
	}
	log.WithField("order", order.Address).Info("Order deployed")
	return order, nil
}

// WaitExecuted waits until an order has run. The order state is executed or failed on return.
// An order that expires without reaching its threshold ends the wait with ErrOrderExpired.
func (c *Coordinator) WaitExecuted(ctx context.Context, orderAddr models.AccountAddress) (*models.Order, error) {
	log := c.deps.Logger.WithField("order", orderAddr)
	var order *models.Order
	err := c.poll(ctx, log, func() (bool, error) {
		current, err := c.Order(ctx, orderAddr)
		if err != nil {
			return false, err
		}
		order = current
		if !current.Terminal() {
			if current.Expired(c.deps.Now()) {
				return false, models.ErrOrderExpired
			}
			return false, nil
		}
		exec, err := c.deps.Indexer.OrderExecution(ctx, current.MultisigAddress, current.OrderSeqno)
		if err != nil {
			return false, err
		}
		if exec.Success {
			order.State = models.OrderExecuted
		} else {
			order.State = models.OrderFailed
		}
		return true, nil
	})
	if err != nil {
		return order, err
	}
	if c.deps.Store != nil {
		if _, err := c.deps.Store.Merge(ctx, order); err != nil {
			log.WithError(err).Warn("Failed to record executed order")
		}
	}
	log.WithField("state", order.State).Info("Order finished")
	return order, nil
}
