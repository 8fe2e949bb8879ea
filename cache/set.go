package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// IndexSet keeps unordered string memberships, e.g. wallet -> session ids.
type IndexSet struct {
	client *redis.Client
	prefix string
}

func NewIndexSet(client *redis.Client, prefix string) *IndexSet {
	return &IndexSet{
		client: client,
		prefix: prefix,
	}
}

func (s *IndexSet) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *IndexSet) Add(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, s.key(key), args...).Err()
}

func (s *IndexSet) Remove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, s.key(key), args...).Err()
}

func (s *IndexSet) Members(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, s.key(key)).Result()
}

func (s *IndexSet) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
