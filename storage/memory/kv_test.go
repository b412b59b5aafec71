package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKV_TTLExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	kv := NewKV().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, kv.Set(ctx, "b", []byte("2"), 0))

	v, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	now = now.Add(2 * time.Minute)
	_, ok, err = kv.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, _ = kv.Get(ctx, "b")
	require.True(t, ok, "zero ttl never expires")
}

func TestKV_GetReturnsCopy(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "k", []byte("abc"), 0))

	v, _, _ := kv.Get(ctx, "k")
	v[0] = 'z'
	again, _, _ := kv.Get(ctx, "k")
	require.Equal(t, "abc", string(again))
}

func TestKV_Sweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	kv := NewKV().WithClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "x", []byte("1"), time.Second))
	require.NoError(t, kv.Set(ctx, "y", []byte("1"), time.Hour))

	now = now.Add(time.Minute)
	require.Equal(t, 1, kv.Sweep())
	_, ok, _ := kv.Get(ctx, "y")
	require.True(t, ok)
}
