package concurrency

import "sync"

// Tracker holds the live per-group task counts. Counts are in-memory
// only and reset on restart; the durable limits live in GroupRegistry.
type Tracker struct {
	registry *GroupRegistry
	mu       sync.Mutex
	counts   map[string]int
}

func NewTracker(registry *GroupRegistry) *Tracker {
	return &Tracker{
		registry: registry,
		counts:   make(map[string]int),
	}
}

// CanStart reports whether another task may start in the group. A group
// absent from the registry carries no limit.
func (t *Tracker) CanStart(group string) bool {
	def, ok := t.registry.Get(group)
	if !ok {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[group] < def.Limit
}

// Increment records a task start in the group.
func (t *Tracker) Increment(group string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[group]++
}

// Decrement records a task finish. The count never goes below zero.
func (t *Tracker) Decrement(group string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[group] > 0 {
		t.counts[group]--
	}
}

func (t *Tracker) Count(group string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[group]
}
