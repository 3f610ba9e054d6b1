package queryengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vantage/pkg/cache"
	"vantage/pkg/chaos"
	"vantage/pkg/config"
	"vantage/pkg/logging"
	"vantage/pkg/negcache"
	"vantage/pkg/wire"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	return l
}

func aQuery(name string) *wire.Message {
	return wire.NewQuery(1, name, wire.TypeA)
}

func TestExecuteChaosInjectionReturnsServfail(t *testing.T) {
	logger := testLogger(t)
	posCache := cache.New(cache.Config{}, logger, nil)
	defer posCache.Close()

	gate := chaos.New(chaos.Config{Enabled: true, Fraction: 1.0})
	eng := New(config.RecursiveConfig{}, config.NegCacheConfig{}, posCache, nil, gate, nil, nil, nil, nil, logger, nil)

	resp := eng.Execute(context.Background(), "10.0.0.1", aQuery("example.com"))
	assert.Equal(t, wire.RcodeServFail, resp.Header.Rcode)
}

func TestExecuteReturnsCachedAnswerWithoutResolving(t *testing.T) {
	logger := testLogger(t)
	posCache := cache.New(cache.Config{}, logger, nil)
	defer posCache.Close()

	req := aQuery("cached.example.com")
	key := cache.NewKey("cached.example.com", wire.TypeA, wire.ClassINET)
	answer := wire.Reply(req, wire.RcodeSuccess)
	answer.Answer = []wire.RR{{Name: "cached.example.com.", Type: wire.TypeA, Class: wire.ClassINET, TTL: 300, Data: wire.A{}}}
	answer.Finalize()
	posCache.Admit(key, answer, 300*time.Second, "test-seed")

	eng := New(config.RecursiveConfig{}, config.NegCacheConfig{}, posCache, nil, nil, nil, nil, nil, nil, logger, nil)

	resp := eng.Execute(context.Background(), "10.0.0.1", req)
	assert.Equal(t, wire.RcodeSuccess, resp.Header.Rcode)
	assert.Len(t, resp.Answer, 1)
}

func TestExecuteReturnsNegativeCacheHitWithoutResolving(t *testing.T) {
	logger := testLogger(t)
	posCache := cache.New(cache.Config{}, logger, nil)
	defer posCache.Close()
	neg := negcache.New(posCache, logger, nil)

	req := aQuery("gone.example.com")
	key := cache.NewKey("gone.example.com", wire.TypeA, wire.ClassINET)
	nx := wire.Reply(req, wire.RcodeNXDomain)
	neg.Admit(key, nx, negcache.Observed)

	eng := New(config.RecursiveConfig{}, config.NegCacheConfig{}, posCache, neg, nil, nil, nil, nil, nil, logger, nil)

	resp := eng.Execute(context.Background(), "10.0.0.1", req)
	assert.Equal(t, wire.RcodeNXDomain, resp.Header.Rcode)
}

func TestExecuteWithNoResolverReturnsServfailOnMiss(t *testing.T) {
	logger := testLogger(t)
	posCache := cache.New(cache.Config{}, logger, nil)
	defer posCache.Close()

	eng := New(config.RecursiveConfig{}, config.NegCacheConfig{}, posCache, nil, nil, nil, nil, nil, nil, logger, nil)

	resp := eng.Execute(context.Background(), "10.0.0.1", aQuery("unresolvable.example.com"))
	assert.Equal(t, wire.RcodeServFail, resp.Header.Rcode)
}

func TestExecuteFormErrOnEmptyQuestion(t *testing.T) {
	logger := testLogger(t)
	eng := New(config.RecursiveConfig{}, config.NegCacheConfig{}, nil, nil, nil, nil, nil, nil, nil, logger, nil)

	req := &wire.Message{}
	resp := eng.Execute(context.Background(), "10.0.0.1", req)
	assert.Equal(t, wire.RcodeFormErr, resp.Header.Rcode)
}
