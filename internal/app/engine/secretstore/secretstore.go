// Package secretstore implements the secret-store service engine: a flat
// namespace of named secret values with versioning, distinct from
// parameterstore in that values are never returned by a listing
// operation, only by an explicit get.
package secretstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// Secret is one named entry. Value is intentionally excluded from any
// method that returns a collection (ListSecrets), matching the cloud
// secret manager's "describe without value" split.
type Secret struct {
	Name      string
	ARN       string
	Value     string
	Version   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Engine owns every secret.
type Engine struct {
	mu      sync.RWMutex
	secrets map[string]*Secret
}

// New constructs an empty secret-store engine.
func New() *Engine {
	return &Engine{secrets: make(map[string]*Secret)}
}

// CreateOrUpdate stores a secret value, allocating a fresh version id on
// every call.
func (e *Engine) CreateOrUpdate(name, value string) (*Secret, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	existing, ok := e.secrets[name]
	s := &Secret{
		Name:      name,
		ARN:       "arn:aws:secretsmanager:us-east-1:000000000000:secret:" + name,
		Value:     value,
		Version:   uuid.NewString(),
		UpdatedAt: now,
	}
	if ok {
		s.CreatedAt = existing.CreatedAt
	} else {
		s.CreatedAt = now
	}
	e.secrets[name] = s
	cp := *s
	return &cp, nil
}

// GetValue returns the current value of a secret.
func (e *Engine) GetValue(name string) (*Secret, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.secrets[name]
	if !ok {
		return nil, apperrors.NotFound("ResourceNotFoundException", "secret does not exist: "+name)
	}
	cp := *s
	return &cp, nil
}

// Delete removes a secret.
func (e *Engine) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.secrets[name]; !ok {
		return apperrors.NotFound("ResourceNotFoundException", "secret does not exist: "+name)
	}
	delete(e.secrets, name)
	return nil
}

// describeOnly strips a secret's value for listings.
func describeOnly(s Secret) Secret {
	s.Value = ""
	return s
}

// List returns every secret's metadata (never its value), sorted by
// name.
func (e *Engine) List() []Secret {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Secret, 0, len(e.secrets))
	for _, s := range e.secrets {
		out = append(out, describeOnly(*s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every secret name, sorted, for the dispatch fabric's name
// registry.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.secrets))
	for name := range e.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
