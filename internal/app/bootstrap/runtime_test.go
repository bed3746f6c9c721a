package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/voxlane/voxlane-platform/internal/config"
)

func TestBuildRedisClient_DisabledWithoutAddr(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), nil, nil, false))
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: "  "}, nil, false))
}

func TestBuildRedisClient_VerifiedPing(t *testing.T) {
	srv := miniredis.RunT(t)

	cfg := &appconfig.Config{RedisAddr: srv.Addr()}
	client := BuildRedisClient(context.Background(), cfg, nil, true)
	require.NotNil(t, client)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "probe", "1", time.Minute).Err())
	got, err := client.Get(context.Background(), "probe").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}

func TestBuildRedisClient_UnreachableReturnsNil(t *testing.T) {
	cfg := &appconfig.Config{RedisAddr: "127.0.0.1:1"}
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, nil, true))
}

func TestBuildRedisClient_SkipVerifyReturnsClient(t *testing.T) {
	cfg := &appconfig.Config{RedisAddr: "127.0.0.1:1"}
	client := BuildRedisClient(context.Background(), cfg, nil, false)
	require.NotNil(t, client)
	client.Close()
}
