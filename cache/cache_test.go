package cache

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name  string `msgpack:"name"`
	Count int    `msgpack:"count"`
}

func newTestCache(t *testing.T) (*Cache[item], *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := New(Options[item]{
		Client:  client,
		Encoder: MsgpackEncoder[item](),
		Decoder: MsgpackDecoder[item](),
		Prefix:  "test",
	})
	return c, mr, client
}

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)

	_, err := c.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "a", item{Name: "a", Count: 1}, time.Minute))
	require.True(t, mr.Exists("test:a"))
	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, item{Name: "a", Count: 1}, got)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "b", item{Name: "b"}, 0))
	require.NoError(t, c.Delete(ctx, "b"))
	_, err = c.Get(ctx, "b")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetUndecodable(t *testing.T) {
	c, mr, _ := newTestCache(t)
	require.NoError(t, mr.Set("test:bad", "not msgpack"))
	_, err := c.Get(context.Background(), "bad")
	require.ErrorIs(t, err, ErrDecodeFailed)
}

func TestMGetSkipsMissingAndBroken(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)
	require.NoError(t, c.Set(ctx, "a", item{Name: "a"}, 0))
	require.NoError(t, c.Set(ctx, "b", item{Name: "b"}, 0))
	require.NoError(t, mr.Set("test:c", "garbage"))

	got, err := c.MGet(ctx, "a", "b", "c", "d")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "b", got["b"].Name)

	empty, err := c.MGet(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)

	inc := func(v item, found bool) (item, error) {
		if !found {
			return item{Name: "counter", Count: 1}, nil
		}
		v.Count++
		return v, nil
	}
	got, err := c.Update(ctx, "n", time.Hour, inc)
	require.NoError(t, err)
	require.Equal(t, 1, got.Count)
	got, err = c.Update(ctx, "n", time.Hour, inc)
	require.NoError(t, err)
	require.Equal(t, 2, got.Count)
	require.Greater(t, mr.TTL("test:n"), time.Duration(0))

	abort := errors.New("abort")
	_, err = c.Update(ctx, "n", time.Hour, func(v item, found bool) (item, error) {
		v.Count = 100
		return v, abort
	})
	require.ErrorIs(t, err, abort)
	stored, err := c.Get(ctx, "n")
	require.NoError(t, err)
	require.Equal(t, 2, stored.Count)
}

func TestIndexSet(t *testing.T) {
	ctx := context.Background()
	_, _, client := newTestCache(t)
	s := NewIndexSet(client, "idx")

	require.NoError(t, s.Add(ctx, "w1", "s1", "s2"))
	require.NoError(t, s.Add(ctx, "w1"))
	members, err := s.Members(ctx, "w1")
	require.NoError(t, err)
	sort.Strings(members)
	require.Equal(t, []string{"s1", "s2"}, members)

	require.NoError(t, s.Remove(ctx, "w1", "s1"))
	members, err = s.Members(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, []string{"s2"}, members)

	require.NoError(t, s.Delete(ctx, "w1"))
	members, err = s.Members(ctx, "w1")
	require.NoError(t, err)
	require.Empty(t, members)
}
