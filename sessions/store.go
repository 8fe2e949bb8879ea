package sessions

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/toncenter/ton-dispatch-go/cache"
	"github.com/toncenter/ton-dispatch-go/models"
)

const allSessionsKey = "all"

var advanceScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local candidate = tonumber(ARGV[1])
if candidate > current then
	redis.call('SET', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// Store persists TON Connect sessions and bridge cursors in Redis.
type Store struct {
	client   *redis.Client
	sessions *cache.Cache[models.Session]
	index    *cache.IndexSet
	byWallet *cache.IndexSet

	lastEventIDKey   string
	walletEventIDKey string
}

func New(client *redis.Client, prefix string) *Store {
	return &Store{
		client: client,
		sessions: cache.New(cache.Options[models.Session]{
			Client:  client,
			Encoder: cache.MsgpackEncoder[models.Session](),
			Decoder: cache.MsgpackDecoder[models.Session](),
			Prefix:  prefix + ":sess",
		}),
		index:            cache.NewIndexSet(client, prefix+":sessidx"),
		byWallet:         cache.NewIndexSet(client, prefix+":sesswallet"),
		lastEventIDKey:   prefix + ":bridge:last_event_id",
		walletEventIDKey: prefix + ":bridge:wallet_event_id",
	}
}

func (s *Store) Save(ctx context.Context, session models.Session) error {
	if session.ClientSessionID == "" {
		return errors.New("session without client session id")
	}
	if err := s.sessions.Set(ctx, session.ClientSessionID, session, 0); err != nil {
		return err
	}
	if err := s.index.Add(ctx, allSessionsKey, session.ClientSessionID); err != nil {
		return err
	}
	return s.byWallet.Add(ctx, session.WalletID, session.ClientSessionID)
}

func (s *Store) Get(ctx context.Context, clientSessionID string) (models.Session, error) {
	session, err := s.sessions.Get(ctx, clientSessionID)
	if errors.Is(err, cache.ErrNotFound) {
		return session, models.ErrNotFound
	}
	return session, err
}

func (s *Store) Delete(ctx context.Context, clientSessionID string) error {
	session, err := s.Get(ctx, clientSessionID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if err := s.sessions.Delete(ctx, clientSessionID); err != nil {
		return err
	}
	if err := s.index.Remove(ctx, allSessionsKey, clientSessionID); err != nil {
		return err
	}
	if session.WalletID != "" {
		return s.byWallet.Remove(ctx, session.WalletID, clientSessionID)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]models.Session, error) {
	ids, err := s.index.Members(ctx, allSessionsKey)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

func (s *Store) ListByWallet(ctx context.Context, walletID string) ([]models.Session, error) {
	ids, err := s.byWallet.Members(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// RemoveWallet drops every session of a wallet and returns what was removed.
func (s *Store) RemoveWallet(ctx context.Context, walletID string) ([]models.Session, error) {
	removed, err := s.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	for _, session := range removed {
		if err := s.Delete(ctx, session.ClientSessionID); err != nil {
			return nil, err
		}
	}
	if err := s.byWallet.Delete(ctx, walletID); err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Store) load(ctx context.Context, ids []string) ([]models.Session, error) {
	found, err := s.sessions.MGet(ctx, ids...)
	if err != nil {
		return nil, err
	}
	result := make([]models.Session, 0, len(found))
	for _, id := range ids {
		if session, ok := found[id]; ok {
			result = append(result, session)
		}
	}
	return result, nil
}

// LastEventID returns the last bridge event id handed to the router, 0 if none.
func (s *Store) LastEventID(ctx context.Context) (int64, error) {
	val, err := s.client.Get(ctx, s.lastEventIDKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// AdvanceLastEventID moves the cursor forward. It reports false when id is not newer.
func (s *Store) AdvanceLastEventID(ctx context.Context, id int64) (bool, error) {
	res, err := advanceScript.Run(ctx, s.client, []string{s.lastEventIDKey}, id).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// NextWalletEventID allocates an id for a wallet originated connect or disconnect event.
func (s *Store) NextWalletEventID(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, s.walletEventIDKey).Result()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
