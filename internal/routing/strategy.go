package routing

import (
	"sort"
	"sync"
)

// Selection strategies, tenant-configurable.
const (
	StrategyRoundRobin  = "round_robin"
	StrategyLongestIdle = "longest_idle"
	StrategyFixedOrder  = "fixed_order"
)

// selector orders candidate targets for claiming. Implementations must not
// mutate the input slice.
type selector interface {
	order(tenantID int64, candidates []Target) []Target
}

// roundRobinSelector rotates the starting candidate per tenant so load
// spreads evenly across agents.
type roundRobinSelector struct {
	mu   sync.Mutex
	next map[int64]int
}

func newRoundRobinSelector() *roundRobinSelector {
	return &roundRobinSelector{next: make(map[int64]int)}
}

func (s *roundRobinSelector) order(tenantID int64, candidates []Target) []Target {
	if len(candidates) == 0 {
		return nil
	}

	s.mu.Lock()
	start := s.next[tenantID] % len(candidates)
	s.next[tenantID]++
	s.mu.Unlock()

	out := make([]Target, 0, len(candidates))
	out = append(out, candidates[start:]...)
	out = append(out, candidates[:start]...)
	return out
}

// longestIdleSelector prefers the agent that has been idle longest. The
// registry supplies idle timestamps; a target never seen idle sorts first.
type longestIdleSelector struct {
	registry *Registry
}

func (s *longestIdleSelector) order(_ int64, candidates []Target) []Target {
	out := make([]Target, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return s.registry.IdleSince(out[i].ID).Before(s.registry.IdleSince(out[j].ID))
	})
	return out
}

// fixedOrderSelector always tries targets in configured priority order.
type fixedOrderSelector struct{}

func (fixedOrderSelector) order(_ int64, candidates []Target) []Target {
	out := make([]Target, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PriorityWeight != out[j].PriorityWeight {
			return out[i].PriorityWeight > out[j].PriorityWeight
		}
		return out[i].Extension < out[j].Extension
	})
	return out
}
