package formaction

import (
	"encoding/xml"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/corestack-dev/corestack/internal/app/engine/identity"
	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

type issueTokenResult struct {
	XMLName          xml.Name         `xml:"IssueTokenResponse"`
	Token            string           `xml:"IssueTokenResult>Token"`
	ResponseMetadata ResponseMetadata `xml:"ResponseMetadata"`
}

type verifyTokenResult struct {
	XMLName          xml.Name         `xml:"VerifyTokenResponse"`
	Actor            string           `xml:"VerifyTokenResult>Actor"`
	ResponseMetadata ResponseMetadata `xml:"ResponseMetadata"`
}

type evaluateResult struct {
	XMLName          xml.Name         `xml:"EvaluateResponse"`
	Allowed          bool             `xml:"EvaluateResult>Allowed"`
	Reason           string           `xml:"EvaluateResult>Reason"`
	ResponseMetadata ResponseMetadata `xml:"ResponseMetadata"`
}

// MountIdentity wires the identity/token/policy Action dialect onto a gin
// engine. Unlike the other Action-dialect services, PutIdentity and
// SetResourcePolicy take their statements as repeated
// Statement.N.Effect / Statement.N.Action.M entries.
func MountIdentity(engine *identity.Engine) *gin.Engine {
	r := NewRouter()
	r.Any("/", func(c *gin.Context) {
		switch Action(c) {
		case "PutIdentity":
			engine.PutIdentity(identity.Identity{
				Name:     Form(c, "Name"),
				Policies: []identity.Policy{{Name: "inline", Statements: statementsFrom(c)}},
			})
			WriteResult(c, simpleActionResult{XMLName: xml.Name{Local: "PutIdentityResponse"}, ResponseMetadata: Metadata()})

		case "SetResourcePolicy":
			engine.SetResourcePolicy(identity.Policy{Name: "resource", Statements: statementsFrom(c)})
			WriteResult(c, simpleActionResult{XMLName: xml.Name{Local: "SetResourcePolicyResponse"}, ResponseMetadata: Metadata()})

		case "RequireActions":
			engine.RequireActions(Form(c, "Service"), Form(c, "Operation"), NumberedValues(c, "Action"))
			WriteResult(c, simpleActionResult{XMLName: xml.Name{Local: "RequireActionsResponse"}, ResponseMetadata: Metadata()})

		case "IssueToken":
			token, err := engine.IssueToken(Form(c, "PrincipalName"))
			if err != nil {
				WriteError(c, err)
				return
			}
			WriteResult(c, issueTokenResult{Token: token, ResponseMetadata: Metadata()})

		case "VerifyToken":
			actor, err := engine.VerifyToken(Form(c, "Token"))
			if err != nil {
				WriteError(c, err)
				return
			}
			WriteResult(c, verifyTokenResult{Actor: actor, ResponseMetadata: Metadata()})

		case "Evaluate":
			decision := engine.Evaluate(Form(c, "PrincipalName"), NumberedValues(c, "Action"))
			WriteResult(c, evaluateResult{Allowed: decision.Allowed, Reason: decision.Reason, ResponseMetadata: Metadata()})

		default:
			WriteError(c, apperrors.Validation("UnknownOperationException", "unsupported action: "+Action(c)))
		}
	})
	return r
}

// statementsFrom parses "Statement.N.Effect" / "Statement.N.Action.M"
// numbered form entries into policy statements.
func statementsFrom(c *gin.Context) []identity.Statement {
	var statements []identity.Statement
	for i := 1; ; i++ {
		prefix := "Statement." + strconv.Itoa(i)
		effect := Form(c, prefix+".Effect")
		if effect == "" {
			break
		}
		actions := NumberedValues(c, prefix+".Action")
		statements = append(statements, identity.Statement{Effect: identity.Effect(effect), Actions: actions})
	}
	return statements
}
