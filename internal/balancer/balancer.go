// Package balancer implements the default placement policy used by an
// overseer: route to the least-loaded active slave when one qualifies,
// otherwise request a spawn, otherwise leave the invocation queued.
package balancer

import (
	"noded/internal/overseer"
)

// LeastLoaded is the default Balancer. It holds no state of its own beyond
// the weak handle to its overseer; every decision is derived fresh from
// Snapshot() so it never drifts from the pool it is attached to.
type LeastLoaded struct {
	concurrency int
	overseer    overseer.OverseerHandle
}

// New returns a least-loaded balancer. concurrency is the per-slave load
// at or above which a slave is considered saturated and no longer a
// placement candidate.
func New(concurrency int) *LeastLoaded {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &LeastLoaded{concurrency: concurrency}
}

func (b *LeastLoaded) Attach(h overseer.OverseerHandle) { b.overseer = h }

// QueueChanged picks the active slave with the least current load among
// those below the concurrency threshold. If none qualify it requests a
// spawn; the overseer itself enforces the pool ceiling, so this always
// returns Spawn true when there is no better candidate.
func (b *LeastLoaded) QueueChanged(event string) overseer.PlacementDecision {
	snap := b.overseer.Snapshot()

	best := ""
	var bestLoad uint64
	for _, s := range snap.Slaves {
		if s.State != "active" || s.Load >= uint64(b.concurrency) {
			continue
		}
		if best == "" || s.Load < bestLoad {
			best, bestLoad = s.ID, s.Load
		}
	}
	if best != "" {
		return overseer.PlacementDecision{SlaveID: best}
	}
	return overseer.PlacementDecision{Spawn: true}
}

// PoolChanged is a no-op: placement is recomputed fresh from Snapshot() on
// every QueueChanged call, so there is nothing to update eagerly.
func (b *LeastLoaded) PoolChanged() {}

// ChannelStarted and ChannelFinished are no-ops: load is read directly from
// the overseer's snapshot rather than tracked independently here, so there
// is nothing for this policy to accumulate.
func (b *LeastLoaded) ChannelStarted(channelID uint64)  {}
func (b *LeastLoaded) ChannelFinished(channelID uint64) {}
