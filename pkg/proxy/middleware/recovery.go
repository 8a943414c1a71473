package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/logging"
)

// RecoveryMiddleware turns handler panics into 500 internal_error
// responses. The stack is logged, never sent. http.ErrAbortHandler is
// re-raised so net/http can abort the connection as intended.
//
//	handler = RecoveryMiddleware(handler)
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			slog.ErrorContext(r.Context(), "panic in handler",
				"error", rec,
				"method", r.Method,
				"path", logging.RedactPath(r.URL.RequestURI()),
				"stack", string(debug.Stack()),
			)
			types.WriteError(w, types.E(types.KindInternal, "http.recover", "", nil), GetRequestID(r.Context()))
		}()

		next.ServeHTTP(w, r)
	})
}
