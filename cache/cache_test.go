package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Status string `json:"status"`
}

func TestSetThenGetRoundTrips(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c := New("redis://"+mr.Addr(), time.Minute, nil)
	require.True(t, c.Enabled())

	ctx := context.Background()
	c.Set(ctx, "workflow:WID00000001", payload{Status: "COMPLETED"})

	var out payload
	found := c.Get(ctx, "workflow:WID00000001", &out)
	assert.True(t, found)
	assert.Equal(t, "COMPLETED", out.Status)
}

func TestGetMissReturnsFalse(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c := New("redis://"+mr.Addr(), time.Minute, nil)
	var out payload
	assert.False(t, c.Get(context.Background(), "does-not-exist", &out))
}

func TestDisabledCacheIsANoOp(t *testing.T) {
	c := New("", time.Minute, nil)
	assert.False(t, c.Enabled())

	ctx := context.Background()
	c.Set(ctx, "key", payload{Status: "x"})
	var out payload
	assert.False(t, c.Get(ctx, "key", &out))
	c.Invalidate(ctx, "key")
	assert.NoError(t, c.Close())
}

func TestUnreachableURLDisablesCaching(t *testing.T) {
	c := New("redis://127.0.0.1:1", time.Minute, nil)
	assert.False(t, c.Enabled())
}

func TestInvalidateRemovesEntry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c := New("redis://"+mr.Addr(), time.Minute, nil)
	ctx := context.Background()
	c.Set(ctx, "k", payload{Status: "y"})
	c.Invalidate(ctx, "k")

	var out payload
	assert.False(t, c.Get(ctx, "k", &out))
}
