package engine

import "time"

// tradeHistory is the rolling window behind the frequency rule: an
// unbounded per-symbol day counter plus a bounded ring of the most
// recent trade timestamps. It is mutated only on approved signals.
type tradeHistory struct {
	lastTradeTime time.Time
	symbolCounts  map[string]int
	recent        []time.Time
	capacity      int
}

func newTradeHistory(capacity int) *tradeHistory {
	if capacity <= 0 {
		capacity = 100
	}
	return &tradeHistory{
		symbolCounts: make(map[string]int),
		recent:       make([]time.Time, 0, capacity),
		capacity:     capacity,
	}
}

func (h *tradeHistory) record(symbol string, ts time.Time) {
	h.lastTradeTime = ts
	h.symbolCounts[symbol]++
	if len(h.recent) == h.capacity {
		h.recent = h.recent[1:]
	}
	h.recent = append(h.recent, ts)
}

func (h *tradeHistory) symbolCount(symbol string) int {
	return h.symbolCounts[symbol]
}

// countWithin reports how many recorded trades fall inside the window
// ending at now.
func (h *tradeHistory) countWithin(window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	n := 0
	for i := len(h.recent) - 1; i >= 0; i-- {
		if h.recent[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}

func (h *tradeHistory) reset() {
	h.lastTradeTime = time.Time{}
	h.symbolCounts = make(map[string]int)
	h.recent = h.recent[:0]
}

// snapshot returns copies safe to hand to concurrently running
// evaluators.
func (h *tradeHistory) snapshot() (counts map[string]int, recent []time.Time) {
	counts = make(map[string]int, len(h.symbolCounts))
	for s, n := range h.symbolCounts {
		counts[s] = n
	}
	recent = make([]time.Time, len(h.recent))
	copy(recent, h.recent)
	return counts, recent
}
