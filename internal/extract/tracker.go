package extract

import "github.com/bb-Ricardo/fritzinfluxdb/pkg/types"

// Tracker is the set of measurement identities already emitted for one
// service. It is owned by the scheduler goroutine and not safe for concurrent
// use. Entries are never evicted.
type Tracker struct {
	seen map[uint64]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[uint64]struct{})}
}

// Observe records m and reports whether it had not been seen before.
func (t *Tracker) Observe(m types.Measurement) bool {
	id := m.Identity()
	if _, ok := t.seen[id]; ok {
		return false
	}
	t.seen[id] = struct{}{}
	return true
}

// Len returns the number of recorded identities.
func (t *Tracker) Len() int { return len(t.seen) }
