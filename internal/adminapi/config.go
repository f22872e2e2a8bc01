package adminapi

// maxBodyBytes bounds the size of a despawn request body.
var maxBodyBytes int64 = 1 << 16

// SetMaxBodyBytes configures the maximum request body size accepted by the
// admin API. A non-positive value resets it to the default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 16
		return
	}
	maxBodyBytes = n
}

// CORS configuration (opt-in, disabled by default). The teacher carries
// these options without ever wiring a CORS middleware; the admin API
// actually wires github.com/go-chi/cors when enabled, for an operator UI
// served from a different origin.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures the admin API's CORS behavior.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
