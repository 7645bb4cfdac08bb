package main

import (
	"sync"

	"github.com/tomyedwab/hindsight/events"
)

// tallyState is the demo projection: a per-type event count and the running
// sum of any numeric "amount" field. It accepts every event type, so it
// never returns view.ErrUnknownEventType.
type tallyState struct {
	mu      sync.Mutex
	counts  map[string]int
	amounts map[string]float64
}

func newTallyState() *tallyState {
	return &tallyState{
		counts:  make(map[string]int),
		amounts: make(map[string]float64),
	}
}

func (t *tallyState) OnEvent(ev events.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[ev.Type]++
	if raw, ok := ev.Data.Get("amount"); ok {
		if amount, ok := toFloat(raw); ok {
			t.amounts[ev.Type] += amount
		}
	}
	return nil
}

func (t *tallyState) OnReset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = make(map[string]int)
	t.amounts = make(map[string]float64)
	return nil
}

// Snapshot returns a copy of the tallies for the derived-state endpoint.
func (t *tallyState) Snapshot() (map[string]int, map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		counts[k] = v
	}
	amounts := make(map[string]float64, len(t.amounts))
	for k, v := range t.amounts {
		amounts[k] = v
	}
	return counts, amounts
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		// json.Number satisfies this.
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
