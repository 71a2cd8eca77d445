// Package middleware holds the HTTP middleware used by the control plane.
package middleware

import (
	"fmt"
	"net/http"

	"github.com/tfplatform/eventfabric/pkg/logger"
)

// DefaultMaxRequestSize bounds control-plane request bodies (1MB). Resend
// requests carry id lists or a filter, never payloads.
const DefaultMaxRequestSize = 1 * 1024 * 1024

// PanicRecovery recovers from handler panics, logs them through the error
// tracker and returns a 500
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rcv := recover(); rcv != nil {
				err := logger.HandlePanic("ControlHandler", rcv)
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestSizeLimit caps the request body at maxSize bytes; 0 applies the
// default
func RequestSizeLimit(maxSize int64) func(http.Handler) http.Handler {
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			w.Header().Set("X-Max-Request-Size", fmt.Sprintf("%d", maxSize))
			next.ServeHTTP(w, r)
		})
	}
}
