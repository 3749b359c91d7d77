package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vykuang/mh-flight-logs/config"
)

func newTestCache(t *testing.T) (*CacheManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCacheManager(NewRedisCache(client, "test")), mr
}

func TestJSONRoundTrip(t *testing.T) {
	cm, mr := newTestCache(t)
	ctx := context.Background()

	type cached struct {
		Text string `json:"text"`
	}
	require.NoError(t, cm.SetJSON(ctx, ReportKey("2024-01-01"), cached{Text: "On 2024-01-01"}, time.Hour))
	assert.True(t, mr.Exists("test:report:2024-01-01"))

	var got cached
	require.NoError(t, cm.GetJSON(ctx, ReportKey("2024-01-01"), &got))
	assert.Equal(t, "On 2024-01-01", got.Text)

	mr.FastForward(2 * time.Hour)
	err := cm.GetJSON(ctx, ReportKey("2024-01-01"), &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestClaimPublishOnce(t *testing.T) {
	cm, _ := newTestCache(t)
	ctx := context.Background()

	ok, err := cm.ClaimPublish(ctx, "2024-01-01", PublishTTL)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cm.ClaimPublish(ctx, "2024-01-01", PublishTTL)
	require.NoError(t, err)
	assert.False(t, ok)

	published, err := cm.Published(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.True(t, published)

	// another date is independent
	ok, err = cm.ClaimPublish(ctx, "2024-01-02", PublishTTL)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, cm.ReleasePublish(ctx, "2024-01-01"))
	ok, err = cm.ClaimPublish(ctx, "2024-01-01", PublishTTL)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisErrors(t *testing.T) {
	cm, mr := newTestCache(t)
	mr.Close()

	_, err := cm.ClaimPublish(context.Background(), "2024-01-01", PublishTTL)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Host: mr.Host(), Port: mr.Port()}

	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	client.Close()

	mr.Close()
	_, err = NewRedisClient(context.Background(), cfg)
	assert.Error(t, err)
}
