package types

import "time"

// Profile holds the immutable per-application tunables that govern pool
// sizing, queueing, and the various timeouts of the slave state machine.
// All durations are positive; all counts are positive.
type Profile struct {
	// PoolLimit is the maximum number of concurrently spawned slaves.
	// example: 10
	PoolLimit int `json:"pool-limit" example:"10"`
	// QueueLimit is the maximum number of pending invocations.
	// example: 100
	QueueLimit int `json:"queue-limit" example:"100"`
	// Concurrency is the load threshold at or above which a slave is
	// considered saturated for balancing purposes.
	// example: 10
	Concurrency int `json:"concurrency" example:"10"`
	// HeartbeatTimeout bounds how long a worker may go without a heartbeat
	// before the control session is considered lost.
	HeartbeatTimeout time.Duration `json:"heartbeat-timeout" swaggertype:"primitive,integer" example:"30"`
	// IdleTimeout is how long a slave may sit at zero load in Active before
	// a graceful termination is requested.
	IdleTimeout time.Duration `json:"idle-timeout" swaggertype:"primitive,integer" example:"600"`
	// StartupTimeout bounds Spawning and Handshaking combined.
	StartupTimeout time.Duration `json:"startup-timeout" swaggertype:"primitive,integer" example:"10"`
	// TerminationTimeout bounds how long a worker may take to exit after a
	// graceful terminate request before being forcibly reaped.
	TerminationTimeout time.Duration `json:"termination-timeout" swaggertype:"primitive,integer" example:"5"`
	// TerminationGrace is loaded and defaulted but not read by the slave
	// state machine: after a forced kill the slave becomes Broken at once,
	// with no extra grace period.
	TerminationGrace time.Duration `json:"termination-grace" swaggertype:"primitive,integer" example:"2"`
	// LogRetention is the number of recent stdout lines retained in the
	// slave's diagnostic ring buffer.
	// example: 100
	LogRetention int `json:"log-retention" example:"100"`
}

// DefaultProfile returns the profile defaults documented in the runtime's
// external configuration contract.
func DefaultProfile() Profile {
	return Profile{
		PoolLimit:           10,
		QueueLimit:          100,
		Concurrency:         10,
		HeartbeatTimeout:    30 * time.Second,
		IdleTimeout:         600 * time.Second,
		StartupTimeout:      10 * time.Second,
		TerminationTimeout:  5 * time.Second,
		TerminationGrace:    2 * time.Second,
		LogRetention:        100,
	}
}
