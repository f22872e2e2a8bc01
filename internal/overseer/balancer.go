package overseer

// PlacementDecision is the balancer's answer for one queue head: either a
// target slave to bind it to, or a request to grow the pool (the
// invocation stays queued until a slave becomes available).
type PlacementDecision struct {
	SlaveID string
	Spawn   bool
}

// OverseerHandle is the narrow, non-owning view of an overseer that a
// balancer is attached to. A balancer never constructs or closes one.
//
// Snapshot is distinct from Overseer.Info: it is called only from within
// the overseer's own dispatch goroutine (QueueChanged and PoolChanged run
// there), so it reads pool/queue state directly rather than posting a
// command back onto the channel that goroutine is itself draining -- doing
// the latter would deadlock the loop against its own send.
type OverseerHandle interface {
	Snapshot() Snapshot
}

// Balancer decides which active slave receives each queued invocation and
// whether the pool should grow. Implementations must be safe to call from
// the overseer's single dispatch goroutine only; they are not expected to
// be concurrency-safe on their own.
type Balancer interface {
	// Attach binds the balancer to its overseer via a weak, non-owning handle.
	Attach(OverseerHandle)
	// QueueChanged is invoked with the event name of the current queue
	// head and returns where (if anywhere) it should be placed.
	QueueChanged(event string) PlacementDecision
	// PoolChanged signals that pool composition or slave load changed.
	PoolChanged()
	// ChannelStarted/ChannelFinished are optional load-accounting hooks.
	ChannelStarted(channelID uint64)
	ChannelFinished(channelID uint64)
}
