package jsonrpc

import (
	"net/http"

	"github.com/corestack-dev/corestack/internal/app/engine/parameterstore"
)

type putParameterRequest struct {
	Name      string `json:"Name"`
	Value     string `json:"Value"`
	Type      string `json:"Type"`
	Overwrite bool   `json:"Overwrite"`
}

type parameterNameRequest struct {
	Name string `json:"Name"`
}

type getParametersByPathRequest struct {
	Path string `json:"Path"`
}

// MountParameterStore wires every SSM parameter-store operation onto the
// handler.
func MountParameterStore(engine *parameterstore.Engine) http.Handler {
	r := NewRouter()
	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		switch TargetOperation(req) {
		case "PutParameter":
			var body putParameterRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			version, err := engine.Put(body.Name, body.Value, parameterstore.ValueType(body.Type))
			if err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"Version": version})

		case "GetParameter":
			var body parameterNameRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			p, err := engine.Get(body.Name)
			if err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"Parameter": p})

		case "DeleteParameter":
			var body parameterNameRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			if err := engine.Delete(body.Name); err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{})

		case "GetParametersByPath":
			var body getParametersByPathRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"Parameters": engine.GetByPath(body.Path)})

		default:
			WriteError(w, UnknownOperation(TargetOperation(req)))
		}
	})
	return r
}
