package web

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/justestif/go-listening-stats/internal/logging"
)

// CronTokenHeader carries the shared secret for trigger endpoints.
const CronTokenHeader = "x-cron-token"

// requestLogger logs one line per request and puts a correlation id, taken
// from chi's request id, on the request context.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = logging.WithCorrelationID(ctx, id)
		} else {
			ctx = logging.WithNewCorrelationID(ctx)
		}
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			ev := logging.Ctx(ctx).Info()
			if ww.Status() >= http.StatusInternalServerError {
				ev = logging.Ctx(ctx).Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Str("remote", r.RemoteAddr).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// cronAuth rejects requests whose x-cron-token header does not equal token.
// An empty token rejects everything.
func cronAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(CronTokenHeader))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				logging.Ctx(r.Context()).Warn().Str("path", r.URL.Path).Msg("rejected trigger with bad cron token")
				writeJSON(w, http.StatusForbidden, failure{Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
