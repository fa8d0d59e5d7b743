package mcp

import (
	"slices"
	"sync"
	"time"
)

const latencyWindow = 64

// LatencyStats summarises observed connect latencies
type LatencyStats struct {
	Samples int           `json:"samples"`
	Average time.Duration `json:"average"`
	P95     time.Duration `json:"p95"`
}

// latencyTracker keeps the most recent samples per server in a ring
type latencyTracker struct {
	mu      sync.Mutex
	samples map[string]*ring
}

type ring struct {
	values []time.Duration
	next   int
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{samples: make(map[string]*ring)}
}

func (t *latencyTracker) observe(serverID string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.samples[serverID]
	if !ok {
		r = &ring{values: make([]time.Duration, 0, latencyWindow)}
		t.samples[serverID] = r
	}
	if len(r.values) < latencyWindow {
		r.values = append(r.values, d)
		return
	}
	r.values[r.next] = d
	r.next = (r.next + 1) % latencyWindow
}

func (t *latencyTracker) forget(serverID string) {
	t.mu.Lock()
	delete(t.samples, serverID)
	t.mu.Unlock()
}

// stats merges the windows of the given servers, or of every server when
// none are named
func (t *latencyTracker) stats(serverIDs ...string) LatencyStats {
	t.mu.Lock()
	var all []time.Duration
	if len(serverIDs) == 0 {
		for _, r := range t.samples {
			all = append(all, r.values...)
		}
	} else {
		for _, id := range serverIDs {
			if r, ok := t.samples[id]; ok {
				all = append(all, r.values...)
			}
		}
	}
	t.mu.Unlock()

	if len(all) == 0 {
		return LatencyStats{}
	}

	slices.Sort(all)
	var sum time.Duration
	for _, d := range all {
		sum += d
	}
	idx := (len(all)*95+99)/100 - 1
	return LatencyStats{
		Samples: len(all),
		Average: sum / time.Duration(len(all)),
		P95:     all[idx],
	}
}
