package middleware

import (
	"net/http"

	"github.com/corestack-dev/corestack/internal/app/engine/identity"
	"github.com/sirupsen/logrus"
)

// ServiceChain bundles one protocol adapter's chain-step configuration,
// keyed by service name.
type ServiceChain struct {
	Service    string
	Chaos      *ChaosState
	Mock       *MockState
	Auth       AuthConfig
	Identity   *identity.Engine
	ErrorFmt   ErrorFormat
	Publisher  Publisher
	Log        *logrus.Entry
}

// Wrap composes the full ordered middleware chain around handler,
// matching spec.md 4.8: request logging, operation mocking, identity
// authorization, chaos injection, then the handler itself. Paths under
// the internal management prefix bypass steps 2-4 but are still logged.
func (c ServiceChain) Wrap(handler http.Handler) http.Handler {
	wrapped := handler
	wrapped = Chaos(c.Chaos, c.ErrorFmt)(wrapped)
	if c.Identity != nil {
		wrapped = Auth(c.Auth, c.Service, c.Identity, c.ErrorFmt)(wrapped)
	}
	wrapped = Mock(c.Mock, c.Service)(wrapped)
	wrapped = RequestLogging(c.Service, c.Publisher, c.Log)(wrapped)
	return wrapped
}
