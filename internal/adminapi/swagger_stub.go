//go:build !swagger

package adminapi

import (
    "github.com/go-chi/chi/v5"
)

// MountSwagger is a no-op. This module has no swagger-tagged variant, so
// building with -tags=swagger leaves MountSwagger undefined.
func MountSwagger(r chi.Router) {}
