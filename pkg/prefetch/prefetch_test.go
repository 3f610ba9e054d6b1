package prefetch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vantage/pkg/cache"
	"vantage/pkg/config"
	"vantage/pkg/logging"
	"vantage/pkg/wire"
)

type countingRefresher struct{ calls atomic.Int32 }

func (c *countingRefresher) Refresh(context.Context, cache.Key) error {
	c.calls.Add(1)
	return nil
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	return l
}

func TestSweepRefreshesNearExpiryEntries(t *testing.T) {
	logger := testLogger(t)
	c := cache.New(cache.Config{ServeStale: true}, logger, nil)
	defer c.Close()

	key := cache.NewKey("hot.example.com", wire.TypeA, wire.ClassINET)
	c.Admit(key, &wire.Message{}, 100*time.Millisecond, "recursive")
	for i := 0; i < 3; i++ {
		c.Get(key)
	}

	refresher := &countingRefresher{}
	e := New(c, refresher, logger, Config{Enabled: true, NearFraction: 1.0, MinHits: 1})
	e.sweep(t.Context())

	assert.Greater(t, refresher.calls.Load(), int32(0))
}

func TestSweepSkipsBelowMinHits(t *testing.T) {
	logger := testLogger(t)
	c := cache.New(cache.Config{}, logger, nil)
	defer c.Close()

	key := cache.NewKey("cold.example.com", wire.TypeA, wire.ClassINET)
	c.Admit(key, &wire.Message{}, 100*time.Millisecond, "recursive")

	refresher := &countingRefresher{}
	e := New(c, refresher, logger, Config{Enabled: true, NearFraction: 1.0, MinHits: 5})
	e.sweep(t.Context())

	assert.Equal(t, int32(0), refresher.calls.Load())
}
