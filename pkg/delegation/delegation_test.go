package delegation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitAndExactLookup(t *testing.T) {
	c := New()
	c.Admit("example.com.", []string{"ns1.example.com."}, nil, time.Hour)

	r, ok := c.Lookup("example.com.")
	require.True(t, ok)
	assert.Equal(t, []string{"ns1.example.com."}, r.Servers)
}

func TestLookupWalksUpToParentZone(t *testing.T) {
	c := New()
	c.Admit("example.com.", []string{"ns1.example.com."}, nil, time.Hour)

	r, ok := c.Lookup("www.api.example.com.")
	require.True(t, ok)
	assert.Equal(t, "example.com.", r.Zone)
}

func TestLookupMissWhenNoCut(t *testing.T) {
	c := New()
	_, ok := c.Lookup("totally.unrelated.")
	assert.False(t, ok)
}

func TestExpiredReferralNotReturned(t *testing.T) {
	c := New()
	c.Admit("example.com.", []string{"ns1.example.com."}, nil, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Lookup("example.com.")
	assert.False(t, ok)
}

func TestSweepRemovesExpired(t *testing.T) {
	c := New()
	c.Admit("example.com.", []string{"ns1.example.com."}, nil, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	c.Sweep()
	assert.Equal(t, 0, c.Len())
}

func TestParentZone(t *testing.T) {
	assert.Equal(t, "example.com.", parentZone("www.example.com."))
	assert.Equal(t, ".", parentZone("com."))
	assert.Equal(t, ".", parentZone("."))
}
