package adminapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"noded/internal/nodelog"
)

// zlog is the structured logger used by the admin API. Defaults to the
// process-wide logger and can be overridden with SetLogger.
var zlog = nodelog.Get()

// SetLogger installs a structured logger used by the admin API.
func SetLogger(l zerolog.Logger) { zlog = &l }

// logRequest writes one structured line per completed request, the admin
// API's analog of the worker-attributed lines nodelog produces elsewhere.
func logRequest(r *http.Request, status int, dur time.Duration) {
	zlog.Info().
		Str("method", r.Method).
		Str("path", routePatternOrPath(r)).
		Int("status", status).
		Dur("duration", dur).
		Msg("admin request")
}
