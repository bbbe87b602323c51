package middleware

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// ErrorFormat names the wire shape an adapter's errors render in.
type ErrorFormat string

const (
	ErrorFormatJSON   ErrorFormat = "json"
	ErrorFormatXMLS3  ErrorFormat = "xml_s3"
	ErrorFormatXMLIAM ErrorFormat = "xml_iam"
)

// ErrorSpec is one error type chaos can inject.
type ErrorSpec struct {
	Type       string
	Message    string
	Weight     float64
	StatusCode int // 0 means "look up Type in errors.AWSErrorStatusCodes"
}

func (e ErrorSpec) resolveStatus() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	if status, ok := apperrors.AWSErrorStatusCodes[e.Type]; ok {
		return status
	}
	return 400
}

// ChaosConfig is one service's chaos-injection configuration, grounded
// on aws_chaos.py's AwsChaosConfig.
type ChaosConfig struct {
	Enabled             bool
	ErrorRate           float64
	LatencyMinMs        int
	LatencyMaxMs        int
	Errors              []ErrorSpec
	ConnectionResetRate float64
	TimeoutRate         float64
	MaxRequestsPerSec   float64 // 0 disables throttling
}

// ChaosState holds a service's live chaos configuration behind an atomic
// pointer so the control plane can update it without locking request
// handling. It also owns the token-bucket limiter backing
// MaxRequestsPerSec, rebuilt whenever the rate changes.
type ChaosState struct {
	value   atomic.Value // ChaosConfig
	limiter atomic.Pointer[rate.Limiter]
}

// NewChaosState constructs chaos state starting disabled.
func NewChaosState() *ChaosState {
	s := &ChaosState{}
	s.value.Store(ChaosConfig{})
	return s
}

// Get returns the current configuration.
func (s *ChaosState) Get() ChaosConfig {
	return s.value.Load().(ChaosConfig)
}

// Set replaces the current configuration, rebuilding the throttling
// limiter if MaxRequestsPerSec changed.
func (s *ChaosState) Set(cfg ChaosConfig) {
	s.value.Store(cfg)
	if cfg.MaxRequestsPerSec > 0 {
		s.limiter.Store(rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSec), maxBurst(cfg.MaxRequestsPerSec)))
	} else {
		s.limiter.Store(nil)
	}
}

func maxBurst(rps float64) int {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return burst
}

// writeFormattedError renders spec onto w in format.
func writeFormattedError(w http.ResponseWriter, spec ErrorSpec, format ErrorFormat) {
	status := spec.resolveStatus()
	switch format {
	case ErrorFormatXMLS3:
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		fmt.Fprintf(w, "<?xml version='1.0' encoding='UTF-8'?><Error><Code>%s</Code><Message>%s</Message><Resource>/</Resource><RequestId>00000000-0000-0000-0000-000000000000</RequestId></Error>", spec.Type, spec.Message)
	case ErrorFormatXMLIAM:
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(status)
		fmt.Fprintf(w, "<ErrorResponse><Error><Type>Sender</Type><Code>%s</Code><Message>%s</Message></Error><RequestId>00000000-0000-0000-0000-000000000000</RequestId></ErrorResponse>", spec.Type, spec.Message)
	default:
		w.Header().Set("Content-Type", "application/x-amz-json-1.0")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"__type": spec.Type, "message": spec.Message})
	}
}

// pickError selects one of cfg's configured errors by weight, falling
// back to a generic internal error when none are configured.
func pickError(cfg ChaosConfig) ErrorSpec {
	if len(cfg.Errors) == 0 {
		return ErrorSpec{Type: "InternalServerError", Message: "chaos: injected error", StatusCode: 500}
	}
	var total float64
	for _, e := range cfg.Errors {
		total += e.Weight
	}
	roll := rand.Float64()
	var cumulative float64
	for _, e := range cfg.Errors {
		if total > 0 {
			cumulative += e.Weight / total
		}
		if roll < cumulative {
			return e
		}
	}
	return cfg.Errors[len(cfg.Errors)-1]
}

// chaosLatency sleeps for a random duration in [minMs, maxMs].
func chaosLatency(minMs, maxMs int) {
	if maxMs <= 0 || maxMs < minMs {
		return
	}
	span := maxMs - minMs
	delay := minMs
	if span > 0 {
		delay += rand.Intn(span + 1)
	}
	if delay > 0 {
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}
}

// timeoutDelay bounds the chaos timeout simulation: aws_chaos.py sleeps
// a fixed 300s before responding, which is impractical to reproduce
// verbatim in a local emulator's request path, so this applies the same
// "respond slow, then return a synthesized timeout error" shape over a
// bounded delay instead.
const timeoutDelay = 2 * time.Second

// Chaos returns a middleware enforcing the chaos chain step (spec.md
// 4.8 step 4): connection reset, timeout simulation, latency injection,
// then weighted error selection. Internal control-plane paths are
// exempted.
func Chaos(state *ChaosState, format ErrorFormat) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := state.Get()
			if !cfg.Enabled || IsInternalPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if limiter := state.limiter.Load(); limiter != nil && !limiter.Allow() {
				writeFormattedError(w, ErrorSpec{
					Type:       "ThrottlingException",
					Message:    "chaos: request rate exceeds configured limit",
					StatusCode: 429,
				}, format)
				return
			}

			if cfg.ConnectionResetRate > 0 && rand.Float64() < cfg.ConnectionResetRate {
				if hj, ok := w.(http.Hijacker); ok {
					if conn, _, err := hj.Hijack(); err == nil {
						conn.Close()
						return
					}
				}
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}

			if cfg.TimeoutRate > 0 && rand.Float64() < cfg.TimeoutRate {
				time.Sleep(timeoutDelay)
				writeFormattedError(w, ErrorSpec{
					Type:       "ServiceUnavailableException",
					Message:    "chaos: request timed out",
					StatusCode: 504,
				}, format)
				return
			}

			chaosLatency(cfg.LatencyMinMs, cfg.LatencyMaxMs)

			if cfg.ErrorRate > 0 && rand.Float64() < cfg.ErrorRate {
				writeFormattedError(w, pickError(cfg), format)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
