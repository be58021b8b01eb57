package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger emits one line per request. The X-Correlation-ID header, when
// present, is carried into the line so an execution's HTTP trigger can be
// tied to its run logs.
func Logger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				event := log.Info()
				if ww.Status() >= http.StatusInternalServerError {
					event = log.Error()
				}
				event.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context()))
				addCorrelationID(event, r)
				event.Msg("Request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Recoverer keeps a panicking handler from killing the server and answers
// a plain 500; the envelope layer never sees the request again.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					event := log.Error().
						Interface("panic", err).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Str("request_id", middleware.GetReqID(r.Context()))
					addCorrelationID(event, r)
					event.Msg("Handler panicked")

					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func addCorrelationID(event *zerolog.Event, r *http.Request) {
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		event.Str("correlation_id", id)
	}
}
