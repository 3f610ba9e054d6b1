package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRTTUpdateAndRTO(t *testing.T) {
	tbl := NewRTTTable()
	assert.Equal(t, maxRTO, tbl.RTO("8.8.8.8:53"), "cold start returns the conservative ceiling")

	tbl.Update("8.8.8.8:53", 30*time.Millisecond)
	rto := tbl.RTO("8.8.8.8:53")
	assert.Greater(t, rto, time.Duration(0))
	assert.LessOrEqual(t, rto, maxRTO)
}

func TestRTOClampedToMinimum(t *testing.T) {
	tbl := NewRTTTable()
	for i := 0; i < 10; i++ {
		tbl.Update("fast:53", time.Microsecond)
	}
	assert.GreaterOrEqual(t, tbl.RTO("fast:53"), minRTO)
}

func TestFailIncrementsConsecutive(t *testing.T) {
	tbl := NewRTTTable()
	assert.Equal(t, 1, tbl.Fail("x:53"))
	assert.Equal(t, 2, tbl.Fail("x:53"))
	tbl.Update("x:53", 10*time.Millisecond)
	assert.Equal(t, 0, tbl.ConsecutiveFailures("x:53"))
}

func TestBandSelectsWithinWindowOfFastest(t *testing.T) {
	tbl := NewRTTTable()
	tbl.Update("fast:53", 10*time.Millisecond)
	tbl.Update("mid:53", 150*time.Millisecond)
	tbl.Update("slow:53", 500*time.Millisecond)

	band := tbl.Band([]string{"fast:53", "mid:53", "slow:53"})
	assert.Contains(t, band, "fast:53")
	assert.Contains(t, band, "mid:53")
	assert.NotContains(t, band, "slow:53")
}

func TestSocketPoolReusesConnection(t *testing.T) {
	pool := NewSocketPool()
	defer pool.Close()

	c1, err := pool.Get("127.0.0.1:53")
	if err != nil {
		t.Skipf("udp dial unavailable in sandbox: %v", err)
	}
	c2, err := pool.Get("127.0.0.1:53")
	assert.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestSocketPoolDiscard(t *testing.T) {
	pool := NewSocketPool()
	defer pool.Close()

	c1, err := pool.Get("127.0.0.1:53")
	if err != nil {
		t.Skipf("udp dial unavailable in sandbox: %v", err)
	}
	pool.Discard("127.0.0.1:53")
	c2, err := pool.Get("127.0.0.1:53")
	assert.NoError(t, err)
	assert.NotSame(t, c1, c2)
}
