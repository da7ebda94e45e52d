package middleware

import (
	"bufio"
	"net"
	"net/http"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/logger"
)

// responseWriter wraps http.ResponseWriter to detect if the response was
// already written. Implements http.Hijacker for WebSocket upgrades.
type responseWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the underlying ResponseWriter if it implements
// http.Hijacker (needed for WebSocket).
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Recover logs a handler panic and, if nothing was written yet, answers
// with an enveloped 500.
func Recover(errs ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if err := recover(); err != nil {
					logger.Errorf("panic recovered: %v", err)
					if !wrap.wrote {
						errs.WriteError(wrap.ResponseWriter, r, apperr.Internal("internal server error", nil))
					}
				}
			}()
			next.ServeHTTP(wrap, r)
		})
	}
}
