// Package parameterstore implements the parameter-store service engine: a
// flat namespace of named, typed configuration values.
package parameterstore

import (
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// ValueType names a parameter's declared shape.
type ValueType string

const (
	TypeString       ValueType = "String"
	TypeStringList   ValueType = "StringList"
	TypeSecureString ValueType = "SecureString"
)

// Parameter is one named entry.
type Parameter struct {
	Name     string
	Value    string
	Type     ValueType
	Version  int
	Modified time.Time
}

// Engine owns every parameter.
type Engine struct {
	mu         sync.RWMutex
	parameters map[string]*Parameter
}

// New constructs an empty parameter-store engine.
func New() *Engine {
	return &Engine{parameters: make(map[string]*Parameter)}
}

// Put creates or overwrites a parameter, incrementing its version on
// overwrite.
func (e *Engine) Put(name, value string, typ ValueType) (int, error) {
	if typ == "" {
		typ = TypeString
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	version := 1
	if existing, ok := e.parameters[name]; ok {
		version = existing.Version + 1
	}
	e.parameters[name] = &Parameter{Name: name, Value: value, Type: typ, Version: version, Modified: time.Now()}
	return version, nil
}

// Get returns a named parameter.
func (e *Engine) Get(name string) (*Parameter, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.parameters[name]
	if !ok {
		return nil, apperrors.NotFound("ParameterNotFound", "parameter does not exist: "+name)
	}
	cp := *p
	return &cp, nil
}

// Delete removes a parameter. Deleting an absent name is NotFound,
// matching the cloud's GetParameter-family error behavior.
func (e *Engine) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.parameters[name]; !ok {
		return apperrors.NotFound("ParameterNotFound", "parameter does not exist: "+name)
	}
	delete(e.parameters, name)
	return nil
}

// GetByPath returns every parameter whose name starts with path, sorted
// by name. Descendants at every depth are included; there is no
// one-level restriction.
func (e *Engine) GetByPath(path string) []Parameter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Parameter
	for name, p := range e.parameters {
		if strings.HasPrefix(name, path) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every parameter name, sorted, for the dispatch fabric's
// name registry.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.parameters))
	for name := range e.parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
