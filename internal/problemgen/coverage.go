package problemgen

import (
	"sort"
	"sync"

	"github.com/abhisek/apgen/internal/course"
)

// Coverage counts how often each learning objective of a unit has been
// aligned to an accepted item. It is shared by every set of the unit and
// safe for concurrent use.
type Coverage struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewCoverage seeds a zero count for every LO of the unit.
func NewCoverage(u course.Unit) *Coverage {
	c := &Coverage{counts: make(map[string]int)}
	for _, id := range u.LOIDs() {
		c.counts[id] = 0
	}
	return c
}

// Priority returns the topN least-covered LOs of allowed, in ascending
// count order with ties kept in allowed order. topN <= 0 returns the lower
// half (at least one). An empty tracker returns allowed unchanged.
func (c *Coverage) Priority(allowed []string, topN int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.counts) == 0 {
		return append([]string(nil), allowed...)
	}

	type loCount struct {
		id    string
		count int
	}
	ranked := make([]loCount, len(allowed))
	for i, id := range allowed {
		ranked[i] = loCount{id: id, count: c.counts[id]}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].count < ranked[j].count })

	if topN <= 0 {
		topN = max(len(ranked)/2, 1)
	}
	if topN > len(ranked) {
		topN = len(ranked)
	}

	out := make([]string, topN)
	for i := range out {
		out[i] = ranked[i].id
	}
	return out
}

// Update increments the count of every tracked LO the items align to.
// LO IDs the unit does not define are ignored.
func (c *Coverage) Update(items []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, it := range items {
		for _, id := range it.Base().LOIDs {
			if _, ok := c.counts[id]; ok {
				c.counts[id]++
			}
		}
	}
}

// Count returns the current count for id.
func (c *Coverage) Count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

// Snapshot returns a copy of all counts.
func (c *Coverage) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
