package chaos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledNeverRejects(t *testing.T) {
	g := New(Config{Enabled: false, Fraction: 1.0})
	for i := 0; i < 20; i++ {
		assert.False(t, g.Reject())
	}
}

func TestFullFractionAlwaysRejects(t *testing.T) {
	g := New(Config{Enabled: true, Fraction: 1.0})
	for i := 0; i < 20; i++ {
		assert.True(t, g.Reject())
	}
	total, injected := g.Stats()
	assert.Equal(t, uint64(20), total)
	assert.Equal(t, uint64(20), injected)
}

func TestZeroFractionNeverRejects(t *testing.T) {
	g := New(Config{Enabled: true, Fraction: 0})
	for i := 0; i < 20; i++ {
		assert.False(t, g.Reject())
	}
}

func TestSetConfigTakesEffect(t *testing.T) {
	g := New(Config{Enabled: false})
	assert.False(t, g.Reject())
	g.SetConfig(Config{Enabled: true, Fraction: 1.0})
	assert.True(t, g.Reject())
}
