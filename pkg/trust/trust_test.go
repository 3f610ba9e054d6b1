package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewServerStartsAvailable(t *testing.T) {
	s := New([]string{"1.1.1.1:53"}, nil)
	assert.True(t, s.Available("1.1.1.1:53"))
	assert.Equal(t, 1.0, s.Score("1.1.1.1:53"))
}

func TestRepeatedFailuresDisable(t *testing.T) {
	s := New([]string{"9.9.9.9:53"}, nil)
	for i := 0; i < 50; i++ {
		s.Record("9.9.9.9:53", false, 0)
	}
	assert.False(t, s.Available("9.9.9.9:53"))
	assert.Less(t, s.Score("9.9.9.9:53"), DisableThreshold)
}

func TestCooldownDoublesOnRepeatedFailure(t *testing.T) {
	assert.Equal(t, baseCooldown, nextCooldown(1))
	assert.Equal(t, baseCooldown*2, nextCooldown(2))
	assert.Equal(t, baseCooldown*4, nextCooldown(3))
	assert.Equal(t, maxCooldown, nextCooldown(20))
}

func TestUnknownServerUnavailable(t *testing.T) {
	s := New([]string{"1.1.1.1:53"}, nil)
	assert.False(t, s.Available("8.8.8.8:53"))
	assert.Equal(t, 0.0, s.Score("8.8.8.8:53"))
}

func TestCandidatesExcludesDisabled(t *testing.T) {
	s := New([]string{"1.1.1.1:53", "9.9.9.9:53"}, nil)
	for i := 0; i < 50; i++ {
		s.Record("9.9.9.9:53", false, 0)
	}
	candidates := s.Candidates()
	assert.Contains(t, candidates, "1.1.1.1:53")
	assert.NotContains(t, candidates, "9.9.9.9:53")
}

func TestHighVarianceLowersScore(t *testing.T) {
	s := New([]string{"steady:53", "jittery:53"}, nil)
	for i := 0; i < 20; i++ {
		s.Record("steady:53", true, 20*time.Millisecond)
	}
	for i := 0; i < 20; i++ {
		rtt := 5 * time.Millisecond
		if i%2 == 0 {
			rtt = 200 * time.Millisecond
		}
		s.Record("jittery:53", true, rtt)
	}
	assert.Greater(t, s.Score("steady:53"), s.Score("jittery:53"))
}
