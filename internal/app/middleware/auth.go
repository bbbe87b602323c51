package middleware

import (
	"fmt"
	"net/http"

	"github.com/corestack-dev/corestack/internal/app/engine/identity"
)

// AuthMode is a service's effective IAM-authorization mode.
type AuthMode string

const (
	AuthModeDisabled AuthMode = "disabled"
	AuthModeAudit    AuthMode = "audit"
	AuthModeEnforce  AuthMode = "enforce"
)

// AuthConfig governs identity resolution and enforcement for one
// service, grounded on aws_iam_auth.py's IamAuthConfig.
type AuthConfig struct {
	Mode            AuthMode
	IdentityHeader  string
	DefaultIdentity string
}

func (c AuthConfig) effectiveHeader() string {
	if c.IdentityHeader == "" {
		return "X-Ldk-Identity"
	}
	return c.IdentityHeader
}

// resolveIdentity reads the configured identity header, falling back to
// the configured default identity.
func (c AuthConfig) resolveIdentity(r *http.Request) string {
	if id := r.Header.Get(c.effectiveHeader()); id != "" {
		return id
	}
	return c.DefaultIdentity
}

// Auth returns a middleware enforcing the identity-authorization chain
// step (spec.md 4.8 step 3). When engine has no required actions
// registered for an operation, the request proceeds unevaluated,
// matching aws_iam_auth.py's "required_actions is None -> call_next".
func Auth(cfg AuthConfig, service string, engine *identity.Engine, format ErrorFormat) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Mode == AuthModeDisabled || cfg.Mode == "" || IsInternalPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			operation := ExtractOperation(r, service, nil)
			if operation == "" {
				next.ServeHTTP(w, r)
				return
			}

			requiredActions := engine.RequiredActions(service, operation)
			if requiredActions == nil {
				next.ServeHTTP(w, r)
				return
			}

			identityName := cfg.resolveIdentity(r)
			decision := engine.Evaluate(identityName, requiredActions)

			if !decision.Allowed {
				if cfg.Mode == AuthModeEnforce {
					writeAccessDenied(w, format, service, operation, identityName, decision.Reason)
					return
				}
				r.Header.Set("X-Ldk-Iam-Audit", "deny:"+decision.Reason)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAccessDenied(w http.ResponseWriter, format ErrorFormat, service, operation, identityName, reason string) {
	message := fmt.Sprintf("User %s is not authorized to perform %s:%s: %s", identityName, service, operation, reason)
	errType := "AccessDeniedException"
	if format == ErrorFormatXMLS3 {
		errType = "AccessDenied"
	}
	writeFormattedError(w, ErrorSpec{Type: errType, Message: message, StatusCode: 403}, format)
}
