// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"net/http"
)

// contextUpdater is implemented by response writer wrappers that accept a
// late context update from a handler.
type contextUpdater interface {
	UpdateContext(ctx context.Context)
}

// rwUnwrapper matches wrappers that expose their underlying writer, the
// same interface http.ResponseController relies on.
type rwUnwrapper interface {
	Unwrap() http.ResponseWriter
}

// UpdateResponseContext hands ctx to every writer in the response writer
// chain that accepts one. Handlers derive their context after the logging
// middleware has already wrapped the writer, so values stored with
// SetErrorCode would otherwise never reach the request log. Call this
// before writing an error body; writers that don't support updates are
// skipped.
func UpdateResponseContext(w http.ResponseWriter, ctx context.Context) {
	for w != nil {
		if u, ok := w.(contextUpdater); ok {
			u.UpdateContext(ctx)
		}
		uw, ok := w.(rwUnwrapper)
		if !ok {
			return
		}
		w = uw.Unwrap()
	}
}
