// Package identity implements the local identity/policy engine: named
// identities carrying inline policies, a deny-overrides policy evaluator,
// and short-lived signed tokens for local development.
//
// Grounded on _examples/original_source/src/lws/providers/_shared/
// aws_iam_auth.py (AwsIamAuthMiddleware): identities are resolved by a
// configured header (falling back to a default actor), the operation's
// required actions are looked up in a per-service permissions map, and a
// policy decision is evaluated from identity policies + an optional
// boundary policy + an optional resource policy, deny always overriding
// allow. Token issuance is new relative to the Python source (cognito's
// tokens.py covers a different flow); grounded on teacher
// internal/app/httpapi/auth.go's use of golang-jwt/jwt/v5 for short-lived
// HS256 tokens.
package identity

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// Effect is one policy statement's outcome.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// Statement is one IAM-style policy statement: an effect over a list of
// actions. Resource matching is not modeled (every emulated service
// evaluates against a fixed "*" resource, matching spec.md 4.8.3).
type Statement struct {
	Effect  Effect
	Actions []string
}

// matches reports whether action is named by the statement, supporting a
// trailing "*" wildcard suffix (e.g. "sqs:*").
func (s Statement) matches(action string) bool {
	for _, a := range s.Actions {
		if a == "*" || a == action {
			return true
		}
		if len(a) > 0 && a[len(a)-1] == '*' && len(action) >= len(a)-1 && action[:len(a)-1] == a[:len(a)-1] {
			return true
		}
	}
	return false
}

// Policy is a named, ordered list of statements.
type Policy struct {
	Name       string
	Statements []Statement
}

// Identity is one registered caller: a name, its inline policies, and an
// optional permissions boundary.
type Identity struct {
	Name     string
	Policies []Policy
	Boundary *Policy
}

// Decision is the outcome of evaluating one or more required actions
// against an identity.
type Decision struct {
	Allowed bool
	Reason  string
}

// Engine owns every registered identity, the per-(service,operation)
// required-actions map, and short-lived token issuance.
type Engine struct {
	mu             sync.RWMutex
	identities     map[string]*Identity
	requiredAction map[string][]string // "service:operation" -> actions
	resourcePolicy *Policy
	signingSecret  []byte
	tokenTTL       time.Duration
}

// New constructs an identity engine. signingSecret backs issued tokens;
// an empty secret still issues syntactically valid (but unverifiable
// against other secrets) tokens, which is acceptable for a local
// development emulator.
func New(signingSecret string, tokenTTL time.Duration) *Engine {
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}
	return &Engine{
		identities:     make(map[string]*Identity),
		requiredAction: make(map[string][]string),
		signingSecret:  []byte(signingSecret),
		tokenTTL:       tokenTTL,
	}
}

// PutIdentity registers or replaces an identity.
func (e *Engine) PutIdentity(identity Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := identity
	e.identities[identity.Name] = &cp
}

// GetIdentity returns a registered identity, or (nil, false).
func (e *Engine) GetIdentity(name string) (*Identity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.identities[name]
	return id, ok
}

// SetResourcePolicy installs the single resource policy evaluated
// alongside every identity's own policies (spec.md 4.8.3: "identity
// policy + boundary + resource policy").
func (e *Engine) SetResourcePolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := p
	e.resourcePolicy = &cp
}

// RequireActions declares the IAM-style actions an operation on service
// requires, keyed by normalized kebab-case operation name.
func (e *Engine) RequireActions(service, operation string, actions []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requiredAction[service+":"+operation] = actions
}

// RequiredActions returns the actions declared for (service, operation),
// or nil if the operation carries no requirement (in which case the
// middleware chain skips evaluation entirely, per spec.md 4.8.3).
func (e *Engine) RequiredActions(service, operation string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.requiredAction[service+":"+operation]
}

// Evaluate runs the deny-overrides policy engine for principal against
// the given required actions: a DENY in any applicable statement (the
// identity's own policies, its boundary, or the resource policy) wins
// over any ALLOW; absent an explicit ALLOW for every action, the result
// is DENY.
func (e *Engine) Evaluate(principalName string, actions []string) Decision {
	e.mu.RLock()
	identity, ok := e.identities[principalName]
	resourcePolicy := e.resourcePolicy
	e.mu.RUnlock()

	if !ok {
		return Decision{Allowed: false, Reason: "unknown identity"}
	}

	for _, action := range actions {
		if !e.evaluateOne(identity, resourcePolicy, action) {
			return Decision{Allowed: false, Reason: fmt.Sprintf("denied for action %s", action)}
		}
	}
	return Decision{Allowed: true, Reason: "explicit allow"}
}

func (e *Engine) evaluateOne(identity *Identity, resourcePolicy *Policy, action string) bool {
	allowed := false
	for _, policy := range identity.Policies {
		for _, stmt := range policy.Statements {
			if !stmt.matches(action) {
				continue
			}
			if stmt.Effect == EffectDeny {
				return false
			}
			allowed = true
		}
	}
	if !allowed {
		return false
	}
	if identity.Boundary != nil {
		boundaryAllows := false
		for _, stmt := range identity.Boundary.Statements {
			if !stmt.matches(action) {
				continue
			}
			if stmt.Effect == EffectDeny {
				return false
			}
			boundaryAllows = true
		}
		if !boundaryAllows {
			return false
		}
	}
	if resourcePolicy != nil {
		for _, stmt := range resourcePolicy.Statements {
			if stmt.matches(action) && stmt.Effect == EffectDeny {
				return false
			}
		}
	}
	return true
}

// claims is the JWT claim set for issued identity tokens.
type claims struct {
	Actor string `json:"actor"`
	jwt.RegisteredClaims
}

// IssueToken mints a short-lived signed token for principalName, valid
// for the engine's configured TTL.
func (e *Engine) IssueToken(principalName string) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Actor: principalName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.tokenTTL)),
		},
	})
	signed, err := tok.SignedString(e.signingSecret)
	if err != nil {
		return "", apperrors.Internal("InternalServerError", "sign identity token", err)
	}
	return signed, nil
}

// VerifyToken validates a token issued by IssueToken and returns its
// principal name.
func (e *Engine) VerifyToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return e.signingSecret, nil
	})
	if err != nil || !parsed.Valid {
		return "", apperrors.PermissionDenied("NotAuthorizedException", "invalid or expired token")
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return "", apperrors.PermissionDenied("NotAuthorizedException", "invalid token claims")
	}
	return c.Actor, nil
}

// Names returns every registered identity name, for the dispatch
// fabric's name registry.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.identities))
	for name := range e.identities {
		names = append(names, name)
	}
	return names
}
