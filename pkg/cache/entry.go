package cache

import (
	"hash/fnv"
	"time"

	"vantage/pkg/wire"
)

// Entry is one cached RR set plus the bookkeeping the TTL alchemy policy
// and the eviction and prefetch subsystems need. All mutable fields are
// only ever touched while the owning shard's lock is held.
type Entry struct {
	Msg          *wire.Message
	OriginalTTL  time.Duration
	EffectiveTTL time.Duration
	InsertedAt   time.Time
	LastAccess   time.Time
	Provenance   string // upstream name, "recursive", or "opportunistic"

	hitCount   uint64
	staleCount uint64
	pinned     bool // held by an in-flight prefetch refresh; never evicted

	fingerprint   uint64
	hitWindowFrom time.Time
	hitsInWindow  uint64

	volatileFrom  time.Time
	changesInHour int
}

// Fresh reports whether age < effective TTL.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Sub(e.InsertedAt) < e.EffectiveTTL
}

// Stale reports whether the entry is expired but still within the
// serve-stale grace window.
func (e *Entry) Stale(now time.Time, grace time.Duration) bool {
	age := now.Sub(e.InsertedAt)
	return age >= e.EffectiveTTL && age < e.EffectiveTTL+grace
}

// Expired reports whether the entry is past even the grace window and is
// eligible for eviction.
func (e *Entry) Expired(now time.Time, grace time.Duration) bool {
	return now.Sub(e.InsertedAt) >= e.EffectiveTTL+grace
}

// hitsPerHour extrapolates an hourly hit rate from the current sliding
// window, resetting the window once an hour has elapsed.
func (e *Entry) hitsPerHour(now time.Time) float64 {
	if e.hitWindowFrom.IsZero() {
		e.hitWindowFrom = now
	}
	elapsed := now.Sub(e.hitWindowFrom)
	if elapsed >= time.Hour {
		e.hitWindowFrom = now
		e.hitsInWindow = 0
		return 0
	}
	if elapsed <= 0 {
		return float64(e.hitsInWindow)
	}
	return float64(e.hitsInWindow) / elapsed.Hours()
}

func (e *Entry) recordHit(now time.Time) {
	e.hitCount++
	if e.hitWindowFrom.IsZero() || now.Sub(e.hitWindowFrom) >= time.Hour {
		e.hitWindowFrom = now
		e.hitsInWindow = 0
	}
	e.hitsInWindow++
	e.LastAccess = now
}

// recordAdmission folds a new answer into the entry's change history,
// incrementing the volatility counter if the RR-set fingerprint changed
// since the previous admission.
func (e *Entry) recordAdmission(now time.Time, msg *wire.Message) {
	fp := fingerprint(msg.Answer)
	if e.fingerprint != 0 && fp != e.fingerprint {
		if e.volatileFrom.IsZero() || now.Sub(e.volatileFrom) >= time.Hour {
			e.volatileFrom = now
			e.changesInHour = 0
		}
		e.changesInHour++
	}
	e.fingerprint = fp
}

func (e *Entry) volatility(now time.Time) int {
	if e.volatileFrom.IsZero() {
		return 0
	}
	if now.Sub(e.volatileFrom) >= time.Hour {
		return 0
	}
	return e.changesInHour
}

// fingerprint hashes the sorted RR set so admissions can detect whether
// the answer actually changed, independent of record order.
func fingerprint(rrs []wire.RR) uint64 {
	keys := make([]string, len(rrs))
	for i, rr := range rrs {
		keys[i] = rrString(rr)
	}
	sortStrings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func rrString(rr wire.RR) string {
	b, _ := wire.Encode(&wire.Message{Answer: []wire.RR{rr}})
	return string(b)
}

// sortStrings is a tiny insertion sort; RR-set sizes are small enough
// that avoiding a sort.Strings import (and its interface overhead) is
// worth it on the admission hot path.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
