// Package adminapi exposes the node's operator-facing HTTP surface: node and
// application status, health checks, Prometheus metrics, and an admin
// despawn action. It never touches the client/worker wire protocols; those
// are served by internal/app's unix-socket acceptors.
package adminapi

import "noded/pkg/types"

// Service defines the methods the HTTP layer needs from the running node.
type Service interface {
	// Status returns a snapshot of every application and the node's uptime.
	Status() types.NodeStatus
	// ApplicationStatus returns one application's snapshot, or ok=false if
	// no application by that name is running.
	ApplicationStatus(name string) (types.ApplicationStatus, bool)
	// Despawn asks a specific slave of a specific application to terminate
	// gracefully. It returns an error satisfying HTTPError when the
	// application or slave is not found.
	Despawn(appName, slaveID, reason string) error
	// Ready reports whether the node has finished loading its application
	// list and is ready to accept client traffic.
	Ready() bool
}

// HTTPError lets a Service report an HTTP status code alongside its error.
type HTTPError interface {
	error
	StatusCode() int
}
