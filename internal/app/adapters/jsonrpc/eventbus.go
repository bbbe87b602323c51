package jsonrpc

import (
	"encoding/json"
	"net/http"

	"github.com/corestack-dev/corestack/internal/app/engine/eventbus"
)

type eventBusNameRequest struct {
	Name string `json:"Name"`
}

type putRuleRequest struct {
	Name         string                 `json:"Name"`
	EventBusName string                 `json:"EventBusName,omitempty"`
	EventPattern map[string]interface{} `json:"EventPattern,omitempty"`
	ScheduleExpression string           `json:"ScheduleExpression,omitempty"`
	State        string                 `json:"State,omitempty"` // "ENABLED" | "DISABLED"
}

type putTargetsRequest struct {
	Rule         string `json:"Rule"`
	EventBusName string `json:"EventBusName,omitempty"`
	Targets      []struct {
		Arn string `json:"Arn"`
	} `json:"Targets"`
}

type listRulesRequest struct {
	EventBusName string `json:"EventBusName,omitempty"`
}

type putEventsEntryWire struct {
	Source       string                 `json:"Source"`
	DetailType   string                 `json:"DetailType"`
	Detail       string                 `json:"Detail"`
	EventBusName string                 `json:"EventBusName,omitempty"`
}

type putEventsRequest struct {
	Entries []putEventsEntryWire `json:"Entries"`
}

func patternFrom(raw map[string]interface{}) eventbus.Pattern {
	if len(raw) == 0 {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var pattern eventbus.Pattern
	_ = json.Unmarshal(encoded, &pattern)
	return pattern
}

// MountEvents wires every EventBridge-dialect operation onto the handler.
func MountEvents(engine *eventbus.Engine) http.Handler {
	r := NewRouter()
	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		switch TargetOperation(req) {
		case "CreateEventBus":
			var body eventBusNameRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			arn := engine.CreateEventBus(body.Name)
			WriteJSON(w, http.StatusOK, map[string]string{"EventBusArn": arn})

		case "DeleteEventBus":
			var body eventBusNameRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			if err := engine.DeleteEventBus(body.Name); err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{})

		case "PutRule":
			var body putRuleRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			busName := body.EventBusName
			if busName == "" {
				busName = eventbus.DefaultBusName
			}
			arn, err := engine.PutRule(busName, eventbus.Rule{
				Name:     body.Name,
				Pattern:  patternFrom(body.EventPattern),
				Schedule: body.ScheduleExpression,
				Enabled:  body.State != "DISABLED",
			})
			if err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]string{"RuleArn": arn})

		case "PutTargets":
			var body putTargetsRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			busName := body.EventBusName
			if busName == "" {
				busName = eventbus.DefaultBusName
			}
			targets := make([]string, len(body.Targets))
			for i, t := range body.Targets {
				targets[i] = t.Arn
			}
			if err := engine.PutTargets(busName, body.Rule, targets); err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"FailedEntryCount": 0})

		case "ListRules":
			var body listRulesRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			busName := body.EventBusName
			if busName == "" {
				busName = eventbus.DefaultBusName
			}
			rules, err := engine.ListRules(busName)
			if err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"Rules": rules})

		case "PutEvents":
			var body putEventsRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			entries := make([]eventbus.PutEventsEntry, len(body.Entries))
			for i, e := range body.Entries {
				entries[i] = eventbus.PutEventsEntry{
					Source: e.Source, DetailType: e.DetailType,
					Detail: json.RawMessage(e.Detail), EventBus: e.EventBusName,
				}
			}
			results, err := engine.PutEvents(entries)
			if err != nil {
				WriteError(w, err)
				return
			}
			entryResults := make([]map[string]string, len(results))
			for i, r := range results {
				entryResults[i] = map[string]string{"EventId": r.EventID}
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"FailedEntryCount": 0, "Entries": entryResults})

		default:
			WriteError(w, UnknownOperation(TargetOperation(req)))
		}
	})
	return r
}
