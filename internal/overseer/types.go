package overseer

import "time"

// SlaveSnapshot is a point-in-time view of one pool member.
type SlaveSnapshot struct {
	ID     string
	State  string
	Load   uint64
	Uptime time.Duration
	// ChannelClosesTotal is the cumulative number of channels that have
	// fully closed (both sides) on this slave over its lifetime.
	ChannelClosesTotal uint64
}

// Snapshot is the overseer's observable state: pool and queue depth.
type Snapshot struct {
	PoolSize   int
	QueueDepth int
	Slaves     []SlaveSnapshot
	// SpawnsTotal is the cumulative number of slaves this overseer has
	// spawned over its lifetime, independent of how many remain pooled now.
	SpawnsTotal uint64
}
