package multisig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toncenter/ton-dispatch-go/cache"
	"github.com/toncenter/ton-dispatch-go/models"
)

// orderRetention keeps an order around after it expires so late approvals still merge.
const orderRetention = 24 * time.Hour

// Store keeps the local view of orders: proposals and approvals sent from this service
// before the indexer has seen them.
type Store struct {
	orders *cache.Cache[models.Order]
	now    func() time.Time
}

func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{
		orders: cache.New(cache.Options[models.Order]{
			Client:  client,
			Encoder: cache.MsgpackEncoder[models.Order](),
			Decoder: cache.MsgpackDecoder[models.Order](),
			Prefix:  prefix + ":order",
		}),
		now: time.Now,
	}
}

func orderKey(multisig models.AccountAddress, seqno uint64) string {
	return fmt.Sprintf("%s:%d", multisig, seqno)
}

func (s *Store) ttl(order *models.Order) time.Duration {
	ttl := time.Unix(order.ValidUntil, 0).Sub(s.now()) + orderRetention
	if ttl < orderRetention {
		return orderRetention
	}
	return ttl
}

// Merge folds order into the stored view and returns the result.
// Approvals only accumulate and the state only moves forward.
func (s *Store) Merge(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.MultisigAddress == "" {
		return nil, errors.New("order without multisig address")
	}
	merged, err := s.orders.Update(ctx, orderKey(order.MultisigAddress, order.OrderSeqno), s.ttl(order),
		func(current models.Order, found bool) (models.Order, error) {
			if !found {
				return *order, nil
			}
			current.Merge(order)
			if current.Address == "" {
				current.Address = order.Address
			}
			return current, nil
		})
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

func (s *Store) Get(ctx context.Context, multisig models.AccountAddress, seqno uint64) (*models.Order, error) {
	order, err := s.orders.Get(ctx, orderKey(multisig, seqno))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}
