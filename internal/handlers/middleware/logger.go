package middleware

import (
	"context"
	"net/http"
	"time"
)

type logger interface {
	Info(msg string, args ...any)
}

type logData struct {
	responseStatus int
	responseSize   int

	// Set by bearer middleware once token is accepted
	subject string
}

type logDataKey struct{}

// setLogSubject attaches authenticated subject to access log of the request
func setLogSubject(ctx context.Context, subject string) {
	if data, ok := ctx.Value(logDataKey{}).(*logData); ok {
		data.subject = subject
	}
}

type logWriter struct {
	http.ResponseWriter
	data logData
}

func (w *logWriter) Write(p []byte) (int, error) {
	size, err := w.ResponseWriter.Write(p)
	w.data.responseSize += size
	return size, err
}

func (w *logWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.data.responseStatus = statusCode
}

func newLogWriter(w http.ResponseWriter) *logWriter {
	return &logWriter{
		ResponseWriter: w,
		data:           logData{responseStatus: http.StatusOK, responseSize: 0},
	}
}

// LoggerMiddleware writes access log
// Only path is logged: query may carry credentials
// Accepted bearer subject and Basic client id are added when present, secrets never
func LoggerMiddleware(l logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := newLogWriter(w)

			next.ServeHTTP(lw, r.WithContext(context.WithValue(r.Context(), logDataKey{}, &lw.data)))

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start),
				"status", lw.data.responseStatus,
				"size", lw.data.responseSize,
			}
			if lw.data.subject != "" {
				args = append(args, "sub", lw.data.subject)
			}
			if clientID, _, ok := r.BasicAuth(); ok && clientID != "" {
				args = append(args, "client_id", clientID)
			}

			l.Info("got HTTP request", args...)
		})
	}
}
