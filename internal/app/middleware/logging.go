package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/corestack-dev/corestack/internal/app/logstream"
	"github.com/sirupsen/logrus"
)

// statusRecorder captures the response status code for logging, mirroring
// the recorder internal/app/metrics uses for the same purpose.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Publisher is the narrow capability the logging middleware needs from
// the log-stream hub; satisfied directly by *logstream.Hub.
type Publisher interface {
	Publish(r logstream.Record)
}

// RequestLogging returns the chain's first middleware step (spec.md 4.8
// step 1): it captures method, path, the extracted operation label,
// duration, and status for every request, emits a structured log entry,
// and multicasts the same record to any subscribed log-stream clients.
func RequestLogging(service string, publisher Publisher, log *logrus.Entry) func(http.Handler) http.Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil {
				body, _ = io.ReadAll(io.LimitReader(r.Body, 10*1024))
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			operation := ExtractOperation(r, service, body)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			entry := log.WithFields(logrus.Fields{
				"service":   service,
				"method":    r.Method,
				"path":      r.URL.Path,
				"operation": operation,
				"status":    rec.status,
				"duration":  duration,
			})
			if rec.status >= 500 {
				entry.Error("request handled")
			} else {
				entry.Info("request handled")
			}

			if publisher != nil {
				publisher.Publish(logstream.Record{
					Timestamp:  start.UTC().Format(time.RFC3339Nano),
					Service:    service,
					Method:     r.Method,
					Path:       r.URL.Path,
					Operation:  operation,
					Status:     rec.status,
					DurationMs: duration.Milliseconds(),
				})
			}
		})
	}
}
