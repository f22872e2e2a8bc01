package types

// Manifest is the immutable per-application record describing the worker
// executable, its environment, and the endpoint clients connect to.
//
// Manifests are loaded once at application start and never mutated; a
// manifest changed on disk is not picked up by a reload while its
// application is running.
type Manifest struct {
	// Name is the application name used for logging and the pool/queue keys.
	// example: echo-service
	Name string `json:"name" example:"echo-service"`
	// Slave is the path to the worker executable.
	// example: /usr/lib/cocaine/echo-worker
	Slave string `json:"slave" example:"/usr/lib/cocaine/echo-worker"`
	// Endpoint is the filesystem socket path clients connect to for enqueue.
	// example: /var/run/noded/echo-service.sock
	Endpoint string `json:"endpoint" example:"/var/run/noded/echo-service.sock"`
	// Environment is passed verbatim to the spawned worker process.
	Environment map[string]string `json:"environment"`
	// Limits carries optional resource limits (e.g. "memory-mb", "cpu-shares").
	// Unrecognized keys are accepted and forwarded to the isolate unchanged.
	Limits map[string]int64 `json:"limits,omitempty"`
}

// Validate checks the required fields of a Manifest.
func (m Manifest) Validate() error {
	if m.Name == "" {
		return errManifestField("name")
	}
	if m.Slave == "" {
		return errManifestField("slave")
	}
	if m.Endpoint == "" {
		return errManifestField("endpoint")
	}
	return nil
}

type manifestFieldError struct{ field string }

func (e manifestFieldError) Error() string { return "manifest: missing required field " + e.field }

func errManifestField(field string) error { return manifestFieldError{field: field} }
