package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) (*KV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rd := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rd.Close() })
	return NewKV(rd), mr
}

func TestKV_MissingKey(t *testing.T) {
	kv, _ := newTestKV(t)
	v, ok, err := kv.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)
}

func TestKV_SetGetDel(t *testing.T) {
	kv, mr := newTestKV(t)
	kv.WithPrefix("phoneauth:")
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "attempt:1", []byte(`{"id":"1"}`), time.Minute))
	v, ok, err := kv.Get(ctx, "attempt:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"id":"1"}`, string(v))

	require.True(t, mr.Exists("phoneauth:attempt:1"), "keys are stored under the prefix")
	require.Equal(t, time.Minute, mr.TTL("phoneauth:attempt:1"))

	require.NoError(t, kv.Del(ctx, "attempt:1"))
	_, ok, err = kv.Get(ctx, "attempt:1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, kv.Del(ctx, "attempt:1"), "deleting a missing key is not an error")
}

func TestKV_TTLExpiry(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "short", []byte("x"), 30*time.Second))
	require.NoError(t, kv.Set(ctx, "forever", []byte("y"), 0))
	require.NoError(t, kv.Set(ctx, "negative", []byte("z"), -time.Second))

	mr.FastForward(31 * time.Second)
	_, ok, err := kv.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok)

	for _, key := range []string{"forever", "negative"} {
		_, ok, err = kv.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok, key)
	}
}

func TestKV_Ping(t *testing.T) {
	kv, mr := newTestKV(t)
	require.NoError(t, kv.Ping(context.Background()))

	mr.Close()
	require.Error(t, kv.Ping(context.Background()))
}

func TestKV_Unavailable(t *testing.T) {
	kv, mr := newTestKV(t)
	mr.Close()
	_, ok, err := kv.Get(context.Background(), "k")
	require.Error(t, err)
	require.False(t, ok)
}
