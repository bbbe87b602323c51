package identity

import (
	"testing"
	"time"
)

func TestEvaluateAllowRequiresExplicitStatement(t *testing.T) {
	e := New("test-secret", time.Minute)
	e.PutIdentity(Identity{Name: "dev", Policies: []Policy{{
		Name: "inline",
		Statements: []Statement{{Effect: EffectAllow, Actions: []string{"sqs:SendMessage"}}},
	}}})

	if d := e.Evaluate("dev", []string{"sqs:SendMessage"}); !d.Allowed {
		t.Fatalf("expected allow, got deny: %s", d.Reason)
	}
	if d := e.Evaluate("dev", []string{"sqs:DeleteQueue"}); d.Allowed {
		t.Fatalf("expected deny for action with no matching statement")
	}
}

func TestEvaluateDenyOverridesAllow(t *testing.T) {
	e := New("test-secret", time.Minute)
	e.PutIdentity(Identity{Name: "dev", Policies: []Policy{
		{Name: "allow-all", Statements: []Statement{{Effect: EffectAllow, Actions: []string{"sqs:*"}}}},
		{Name: "deny-delete", Statements: []Statement{{Effect: EffectDeny, Actions: []string{"sqs:DeleteQueue"}}}},
	}})

	if d := e.Evaluate("dev", []string{"sqs:SendMessage"}); !d.Allowed {
		t.Fatalf("expected allow via wildcard, got deny: %s", d.Reason)
	}
	if d := e.Evaluate("dev", []string{"sqs:DeleteQueue"}); d.Allowed {
		t.Fatalf("expected explicit deny to override wildcard allow")
	}
}

func TestEvaluateBoundaryRestricts(t *testing.T) {
	e := New("test-secret", time.Minute)
	e.PutIdentity(Identity{
		Name:     "dev",
		Policies: []Policy{{Name: "allow-all", Statements: []Statement{{Effect: EffectAllow, Actions: []string{"sqs:*"}}}}},
		Boundary: &Policy{Name: "read-only", Statements: []Statement{{Effect: EffectAllow, Actions: []string{"sqs:ReceiveMessage"}}}},
	})

	if d := e.Evaluate("dev", []string{"sqs:ReceiveMessage"}); !d.Allowed {
		t.Fatalf("expected allow within boundary, got deny: %s", d.Reason)
	}
	if d := e.Evaluate("dev", []string{"sqs:SendMessage"}); d.Allowed {
		t.Fatalf("expected deny outside boundary")
	}
}

func TestEvaluateResourcePolicyDenyOverrides(t *testing.T) {
	e := New("test-secret", time.Minute)
	e.PutIdentity(Identity{Name: "dev", Policies: []Policy{{
		Name: "allow-all", Statements: []Statement{{Effect: EffectAllow, Actions: []string{"sqs:*"}}},
	}}})
	e.SetResourcePolicy(Policy{Name: "global-deny", Statements: []Statement{
		{Effect: EffectDeny, Actions: []string{"sqs:DeleteQueue"}},
	}})

	if d := e.Evaluate("dev", []string{"sqs:DeleteQueue"}); d.Allowed {
		t.Fatalf("expected resource policy deny to override identity allow")
	}
}

func TestEvaluateUnknownIdentity(t *testing.T) {
	e := New("test-secret", time.Minute)
	if d := e.Evaluate("ghost", []string{"sqs:SendMessage"}); d.Allowed {
		t.Fatalf("expected deny for unregistered identity")
	}
}

func TestIssueAndVerifyToken(t *testing.T) {
	e := New("test-secret", time.Minute)
	e.PutIdentity(Identity{Name: "dev"})

	token, err := e.IssueToken("dev")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	actor, err := e.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if actor != "dev" {
		t.Fatalf("expected actor dev, got %s", actor)
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	issuer := New("secret-a", time.Minute)
	verifier := New("secret-b", time.Minute)
	issuer.PutIdentity(Identity{Name: "dev"})

	token, err := issuer.IssueToken("dev")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := verifier.VerifyToken(token); err == nil {
		t.Fatalf("expected verification to fail against a different signing secret")
	}
}

func TestRequiredActionsLookup(t *testing.T) {
	e := New("test-secret", time.Minute)
	e.RequireActions("sqs", "send-message", []string{"sqs:SendMessage"})

	if got := e.RequiredActions("sqs", "send-message"); len(got) != 1 || got[0] != "sqs:SendMessage" {
		t.Fatalf("unexpected required actions: %+v", got)
	}
	if got := e.RequiredActions("sqs", "unmapped-operation"); got != nil {
		t.Fatalf("expected nil for unmapped operation, got %+v", got)
	}
}

func TestNames(t *testing.T) {
	e := New("test-secret", time.Minute)
	e.PutIdentity(Identity{Name: "dev"})
	e.PutIdentity(Identity{Name: "ci"})

	names := e.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 identities, got %+v", names)
	}
}
