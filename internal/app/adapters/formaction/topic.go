package formaction

import (
	"encoding/json"
	"encoding/xml"

	"github.com/gin-gonic/gin"

	"github.com/corestack-dev/corestack/internal/app/engine/topic"
	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

type createTopicResult struct {
	XMLName          xml.Name         `xml:"CreateTopicResponse"`
	TopicArn         string           `xml:"CreateTopicResult>TopicArn"`
	ResponseMetadata ResponseMetadata `xml:"ResponseMetadata"`
}

type subscribeResult struct {
	XMLName          xml.Name         `xml:"SubscribeResponse"`
	SubscriptionArn  string           `xml:"SubscribeResult>SubscriptionArn"`
	ResponseMetadata ResponseMetadata `xml:"ResponseMetadata"`
}

type publishResult struct {
	XMLName          xml.Name         `xml:"PublishResponse"`
	MessageId        string           `xml:"PublishResult>MessageId"`
	ResponseMetadata ResponseMetadata `xml:"ResponseMetadata"`
}

// MountTopic wires every SNS-dialect Action onto a gin engine.
func MountTopic(engine *topic.Engine) *gin.Engine {
	r := NewRouter()
	r.Any("/", func(c *gin.Context) {
		switch Action(c) {
		case "CreateTopic":
			arn := engine.CreateTopic(Form(c, "Name"))
			WriteResult(c, createTopicResult{TopicArn: arn, ResponseMetadata: Metadata()})

		case "Subscribe":
			policy := filterPolicyFrom(Form(c, "FilterPolicy"))
			arn, err := engine.Subscribe(Form(c, "TopicArn"), topic.Protocol(Form(c, "Protocol")), Form(c, "Endpoint"), policy)
			if err != nil {
				WriteError(c, err)
				return
			}
			WriteResult(c, subscribeResult{SubscriptionArn: arn, ResponseMetadata: Metadata()})

		case "Publish":
			attrs := map[string]string{}
			for _, entry := range NumberedEntries(c, "MessageAttributes.entry") {
				if name, ok := entry["Name"]; ok {
					attrs[name] = entry["Value.StringValue"]
				}
			}
			id, err := engine.Publish(Form(c, "TopicArn"), Form(c, "Message"), Form(c, "Subject"), attrs)
			if err != nil {
				WriteError(c, err)
				return
			}
			WriteResult(c, publishResult{MessageId: id, ResponseMetadata: Metadata()})

		default:
			WriteError(c, apperrors.Validation("UnknownOperationException", "unsupported action: "+Action(c)))
		}
	})
	return r
}

// filterPolicyFrom parses a subscription's FilterPolicy JSON form value
// into the engine's exact-match subset; unparseable or empty input
// yields a nil policy (matches everything).
func filterPolicyFrom(raw string) topic.FilterPolicy {
	if raw == "" {
		return nil
	}
	var asStrings map[string][]string
	if err := json.Unmarshal([]byte(raw), &asStrings); err != nil {
		return nil
	}
	policy := make(topic.FilterPolicy, len(asStrings))
	for attr, values := range asStrings {
		specs := make([]topic.MatchSpec, len(values))
		for i, v := range values {
			val := v
			specs[i] = topic.MatchSpec{Exact: &val}
		}
		policy[attr] = specs
	}
	return policy
}
