package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Headline string   `json:"headline"`
	Tags     []string `json:"tags"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryGetPutExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := NewMemory[*record](WithTTL(time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "k", &record{Headline: "a"}))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", v.Headline)

	clock.Advance(time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCheckAndMark(t *testing.T) {
	c := NewMemory[string]()

	status, _, done := c.CheckAndMark("k")
	assert.Equal(t, StatusNotFound, status)
	require.NotNil(t, done)

	status, _, wait := c.CheckAndMark("k")
	assert.Equal(t, StatusInFlight, status)
	assert.Equal(t, done, wait)

	c.Complete("k", "value", done)

	status, v, _ := c.CheckAndMark("k")
	assert.Equal(t, StatusCached, status)
	assert.Equal(t, "value", v)
}

func TestMemoryFailLetsWaitersRetry(t *testing.T) {
	c := NewMemory[string]()
	_, _, done := c.CheckAndMark("k")

	result := make(chan bool, 1)
	go func() {
		_, ok, _ := c.WaitForResult(context.Background(), "k", done)
		result <- ok
	}()

	c.Fail("k", done)
	assert.False(t, <-result)

	status, _, _ := c.CheckAndMark("k")
	assert.Equal(t, StatusNotFound, status)
}

func TestMemoryWaitRespectsContext(t *testing.T) {
	c := NewMemory[string]()
	_, _, done := c.CheckAndMark("k")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := c.WaitForResult(ctx, "k", done)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryConcurrentWaiters(t *testing.T) {
	c := NewMemory[int]()
	_, _, done := c.CheckAndMark("k")

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := 0; i < 10; i++ {
		status, _, wait := c.CheckAndMark("k")
		require.Equal(t, StatusInFlight, status)
		wg.Add(1)
		go func(i int, wait chan struct{}) {
			defer wg.Done()
			v, _, _ := c.WaitForResult(context.Background(), "k", wait)
			results[i] = v
		}(i, wait)
	}

	c.Complete("k", 42, done)
	wg.Wait()
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestRedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedis[*record](client, "test:", time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "k", &record{Headline: "a", Tags: []string{"x"}}))
	assert.True(t, mr.Exists("test:k"))
	assert.Equal(t, time.Minute, mr.TTL("test:k"))

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, &record{Headline: "a", Tags: []string{"x"}}, v)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, mr.Set("p:k", "{not json"))
	c := NewRedis[*record](client, "p:", time.Minute)
	_, ok, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	c := NewRedis[*record](client, "p:", time.Minute)

	mr.Close()
	_, _, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, c.Put(context.Background(), "k", &record{}))
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client, err := DialRedis(context.Background(), addr, "", 0)
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	_, err = DialRedis(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
