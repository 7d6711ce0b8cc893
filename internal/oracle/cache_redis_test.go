package oracle

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	redis "github.com/redis/go-redis/v9"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	c := NewRedisCacheFromClient(rdb, "test:"+uuid.NewString()+":")

	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "k1", Seconds(321.5)))
	require.NoError(t, c.Set(ctx, "k2", Unreachable))

	tt, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Seconds(321.5), tt)

	tt, ok, err = c.Get(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Unreachable, tt)

	require.NoError(t, c.Clear(ctx))
	_, ok, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)
}
