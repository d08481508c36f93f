// Package middleware contains HTTP middleware functions.
//
// WHAT IS MIDDLEWARE?
// Middleware is a function that wraps an HTTP handler to add cross-cutting behaviour
// (logging, metrics, auth) without modifying the handler itself:
//
//	func MyMiddleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // before
//	        next.ServeHTTP(w, r)
//	        // after
//	    })
//	}
package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/notebook-playground/internal/metrics"
)

// responseWriter wraps http.ResponseWriter to capture the status code and the
// number of bytes written.
//
// HIJACKING:
// The websocket endpoint takes over the raw connection, which needs
// http.Hijacker. Embedding only promotes the methods of the http.ResponseWriter
// interface, so Hijack and Flush are forwarded explicitly.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
	hijacked   bool
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack hands the connection to the caller. The status is recorded as 101
// since nothing else will be written through this writer.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: underlying ResponseWriter does not support hijacking")
	}
	conn, buf, err := h.Hijack()
	if err == nil {
		rw.hijacked = true
		rw.statusCode = http.StatusSwitchingProtocols
	}
	return conn, buf, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the original writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logger returns an HTTP middleware that logs each request with slog and
// records it in the HTTP metrics.
//
// Each log line includes: request id, method, path, status code, duration, and
// bytes written. Websocket sessions are logged once the connection closes.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK, // default if WriteHeader is never called
			}

			next.ServeHTTP(wrapped, r)

			elapsed := time.Since(start)
			if !wrapped.hijacked {
				metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
			}

			level := slog.LevelInfo
			if wrapped.statusCode >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request completed",
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", elapsed),
				slog.Int64("bytes", wrapped.written),
			)
		})
	}
}
