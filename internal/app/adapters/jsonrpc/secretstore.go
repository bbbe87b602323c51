package jsonrpc

import (
	"net/http"

	"github.com/corestack-dev/corestack/internal/app/engine/secretstore"
)

type createSecretRequest struct {
	Name         string `json:"Name"`
	SecretString string `json:"SecretString"`
}

type secretIDRequest struct {
	SecretId string `json:"SecretId"`
}

// MountSecretStore wires every Secrets Manager-dialect operation onto
// the handler.
func MountSecretStore(engine *secretstore.Engine) http.Handler {
	r := NewRouter()
	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		switch TargetOperation(req) {
		case "CreateSecret", "PutSecretValue", "UpdateSecret":
			var body createSecretRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			s, err := engine.CreateOrUpdate(body.Name, body.SecretString)
			if err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"ARN": s.ARN, "Name": s.Name, "VersionId": s.Version})

		case "GetSecretValue":
			var body secretIDRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			s, err := engine.GetValue(body.SecretId)
			if err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"ARN": s.ARN, "Name": s.Name, "SecretString": s.Value, "VersionId": s.Version,
			})

		case "DeleteSecret":
			var body secretIDRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			if err := engine.Delete(body.SecretId); err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"Name": body.SecretId})

		case "ListSecrets":
			WriteJSON(w, http.StatusOK, map[string]interface{}{"SecretList": engine.List()})

		default:
			WriteError(w, UnknownOperation(TargetOperation(req)))
		}
	})
	return r
}
