package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCounterTest(t *testing.T) (*RedisVersionCounter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisVersionCounterFromClient(client, ""), mr
}

func TestRedisVersionCounter_MissingKeyIsZero(t *testing.T) {
	counter, _ := setupRedisCounterTest(t)

	version, err := counter.CurrentVersion(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
}

func TestRedisVersionCounter_Increment(t *testing.T) {
	counter, mr := setupRedisCounterTest(t)
	ctx := context.Background()

	v1, err := counter.IncrementVersion(ctx, 1)
	require.NoError(t, err)
	v2, err := counter.IncrementVersion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)

	current, err := counter.CurrentVersion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current)

	other, err := counter.CurrentVersion(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), other)

	stored, err := mr.Get("crewform:permission_version:1")
	require.NoError(t, err)
	assert.Equal(t, "2", stored)
}

func TestRedisVersionCounter_SharedAcrossInstances(t *testing.T) {
	counter, mr := setupRedisCounterTest(t)
	ctx := context.Background()

	otherClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer otherClient.Close()
	other := NewRedisVersionCounterFromClient(otherClient, "")

	_, err := counter.IncrementVersion(ctx, 5)
	require.NoError(t, err)

	seen, err := other.CurrentVersion(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seen)
}

func TestRedisVersionCounter_ConcurrentIncrements(t *testing.T) {
	counter, _ := setupRedisCounterTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := counter.IncrementVersion(ctx, 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	version, err := counter.CurrentVersion(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(20), version)
}

func TestRedisVersionCounter_ServerDown(t *testing.T) {
	counter, mr := setupRedisCounterTest(t)
	mr.Close()

	_, err := counter.CurrentVersion(context.Background(), 1)
	assert.Error(t, err)

	_, err = counter.IncrementVersion(context.Background(), 1)
	assert.Error(t, err)
}

func TestRedisVersionCounter_KeyPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	counter := NewRedisVersionCounterFromClient(client, "tenant-a:versions")

	_, err = counter.IncrementVersion(context.Background(), 7)
	require.NoError(t, err)

	stored, err := mr.Get("tenant-a:versions:7")
	require.NoError(t, err)
	assert.Equal(t, "1", stored)
	assert.False(t, mr.Exists("crewform:permission_version:7"))
}
