// Package jsonrpc implements the X-Amz-Target + JSON wire dialect (spec.md
// section 6): a single POST endpoint per service, the operation name
// carried in the X-Amz-Target header as "Prefix.OperationName", request
// and response bodies both JSON.
//
// Grounded on _examples/original_source/src/lws/providers/dynamodb/routes.py
// and stepfunctions/routes.py for the request/response field shapes, and
// on the teacher go.mod's go-chi/chi/v5 dependency for the router -
// chi's middleware composition is exactly the per-adapter chain spec.md
// 4.8 asks for, mounted by each service's Mount function.
package jsonrpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// TargetOperation extracts the bare operation name from the request's
// X-Amz-Target header, e.g. "PutItem" from "DynamoDB_20120810.PutItem".
func TargetOperation(r *http.Request) string {
	target := r.Header.Get("X-Amz-Target")
	if idx := strings.LastIndex(target, "."); idx >= 0 {
		return target[idx+1:]
	}
	return target
}

// NewRouter constructs the chi mux a service mounts its single dispatch
// route onto.
func NewRouter() *chi.Mux {
	return chi.NewRouter()
}

// WriteJSON renders v as the AWS JSON 1.0 response envelope.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as the service's JSON error envelope (spec.md
// section 6: "{"__type": "<ErrorName>", "message": "<human text>"}"),
// resolving its HTTP status from the central error table.
func WriteError(w http.ResponseWriter, err error) {
	se := apperrors.Wrap(err)
	status := apperrors.StatusFor(se)
	WriteJSON(w, status, map[string]string{"__type": se.Type, "message": se.Message})
}

// DecodeBody parses the request body as JSON into v.
func DecodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperrors.Validation("SerializationException", "malformed request body: "+err.Error())
	}
	return nil
}

// UnknownOperation builds the error returned when X-Amz-Target names an
// operation a service adapter does not implement.
func UnknownOperation(op string) *apperrors.ServiceError {
	return apperrors.Validation("UnknownOperationException", "unsupported operation: "+op)
}
