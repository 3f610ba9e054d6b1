package negcache

import (
	"strings"
	"time"

	"vantage/pkg/cache"
	"vantage/pkg/wire"
)

// MaxSpeculativeVariants bounds how many typo variants are seeded per
// observed NXDOMAIN, per the open-question decision in SPEC_FULL.md: a
// single-character insert, delete, or transpose on the name's left-most
// label, capped at 8 variants to keep the speculative population small
// relative to the observed one.
const MaxSpeculativeVariants = 8

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789-"

// SeedSpeculative generates typo variants of an observed NXDOMAIN name and
// admits a speculative negative entry for each, skipping any name that
// already has an entry (observed or speculative). It never overwrites an
// observed entry with a speculative guess.
func (c *Cache) SeedSpeculative(name string, qtype wire.RRType, class wire.Class, sourceResp *wire.Message) {
	second := secondLevelLabel(name)
	if second == "" {
		return
	}

	variants := typoVariants(second, MaxSpeculativeVariants)
	if len(variants) == 0 {
		return
	}

	ttl := soaMinimum(sourceResp) / 10

	for _, v := range variants {
		variantName := strings.Replace(name, second, v, 1)
		key := cache.NewKey(variantName, qtype, class)

		c.mu.RLock()
		_, exists := c.entries[key]
		c.mu.RUnlock()
		if exists {
			continue
		}

		c.mu.Lock()
		c.entries[key] = &Entry{
			Rcode:      wire.RcodeNXDomain,
			TTL:        ttl,
			InsertedAt: time.Now(),
			Origin:     Speculative,
		}
		c.mu.Unlock()
	}
}

// secondLevelLabel returns the first (left-most) label of an FQDN, the
// target of the typo edits — e.g. "www" in "www.example.com.".
func secondLevelLabel(fqdn string) string {
	name := strings.TrimSuffix(fqdn, ".")
	if name == "" {
		return ""
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// typoVariants produces up to max single-edit variants of label: one
// character inserted, one deleted, or two adjacent characters transposed.
// Deterministic order keeps output stable for tests.
func typoVariants(label string, max int) []string {
	if label == "" {
		return nil
	}

	var out []string
	seen := map[string]bool{label: true}

	add := func(v string) bool {
		if v == "" || v == label || seen[v] {
			return false
		}
		seen[v] = true
		out = append(out, v)
		return len(out) >= max
	}

	// Transpositions: swap adjacent characters.
	for i := 0; i+1 < len(label); i++ {
		b := []byte(label)
		b[i], b[i+1] = b[i+1], b[i]
		if add(string(b)) {
			return out
		}
	}

	// Deletions: drop one character.
	for i := range label {
		v := label[:i] + label[i+1:]
		if add(v) {
			return out
		}
	}

	// Insertions: add one character from a small sample of the alphabet at
	// the end, the most common typo position.
	for i := 0; i < len(alphabet) && i < 4; i++ {
		v := label + string(alphabet[i])
		if add(v) {
			return out
		}
	}

	return out
}
