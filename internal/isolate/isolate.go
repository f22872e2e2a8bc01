// Package isolate defines the contract the slave state machine uses to
// spawn and reap worker processes, plus a default os/exec-backed
// implementation.
package isolate

import (
	"context"

	"noded/pkg/types"
)

// Handle represents one spawned worker process.
type Handle interface {
	// PID returns the worker's process id.
	PID() int
	// Stdout is the worker's standard output, consumed by the slave's
	// fetcher for diagnostics. Closed by Kill or when the process exits.
	Stdout() interface {
		Read([]byte) (int, error)
	}
	// Wait blocks until the process exits and returns its result. Safe to
	// call exactly once.
	Wait() error
	// Kill sends a termination signal to the process. Idempotent.
	Kill() error
}

// Isolate spawns worker processes on behalf of the slave state machine.
type Isolate interface {
	// Spawn starts a worker process for the given manifest and slave id.
	// env is merged on top of manifest.Environment; implementations use it
	// to tell the worker how to dial back for the RPC handshake.
	Spawn(ctx context.Context, manifest types.Manifest, slaveID string, env map[string]string) (Handle, error)
}
