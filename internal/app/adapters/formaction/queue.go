package formaction

import (
	"encoding/xml"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corestack-dev/corestack/internal/app/engine/queue"
	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

type createQueueResult struct {
	XMLName          xml.Name         `xml:"CreateQueueResponse"`
	QueueUrl         string           `xml:"CreateQueueResult>QueueUrl"`
	ResponseMetadata ResponseMetadata `xml:"ResponseMetadata"`
}

type sendMessageResult struct {
	XMLName          xml.Name         `xml:"SendMessageResponse"`
	MessageId        string           `xml:"SendMessageResult>MessageId"`
	ResponseMetadata ResponseMetadata `xml:"ResponseMetadata"`
}

type receivedMessageWire struct {
	MessageId     string `xml:"MessageId"`
	ReceiptHandle string `xml:"ReceiptHandle"`
	Body          string `xml:"Body"`
}

type receiveMessageResult struct {
	XMLName          xml.Name              `xml:"ReceiveMessageResponse"`
	Messages         []receivedMessageWire `xml:"ReceiveMessageResult>Message"`
	ResponseMetadata ResponseMetadata      `xml:"ResponseMetadata"`
}

type simpleActionResult struct {
	XMLName          xml.Name
	ResponseMetadata ResponseMetadata
}

type queueAttributesResult struct {
	XMLName          xml.Name         `xml:"GetQueueAttributesResponse"`
	Attributes       []attributeEntry `xml:"GetQueueAttributesResult>Attribute"`
	ResponseMetadata ResponseMetadata `xml:"ResponseMetadata"`
}

type attributeEntry struct {
	Name  string `xml:"Name"`
	Value string `xml:"Value"`
}

// MountQueue wires every SQS-dialect Action onto a gin engine.
func MountQueue(engine *queue.Engine) *gin.Engine {
	r := NewRouter()
	r.Any("/", func(c *gin.Context) {
		switch Action(c) {
		case "CreateQueue":
			attrs := queue.Attributes{
				Name:              Form(c, "QueueName"),
				FIFO:              Form(c, "FifoQueue") == "true",
				ContentBasedDedup: Form(c, "ContentBasedDeduplication") == "true",
				DeadLetterTarget:  Form(c, "DeadLetterTargetQueue"),
			}
			if v := Form(c, "VisibilityTimeout"); v != "" {
				if secs, err := strconv.Atoi(v); err == nil {
					attrs.VisibilityTimeout = time.Duration(secs) * time.Second
				}
			}
			if v := Form(c, "MaxReceiveCount"); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					attrs.MaxReceiveCount = n
				}
			}
			if err := engine.Create(attrs); err != nil {
				WriteError(c, err)
				return
			}
			WriteResult(c, createQueueResult{QueueUrl: attrs.Name, ResponseMetadata: Metadata()})

		case "DeleteQueue":
			if err := engine.Destroy(Form(c, "QueueUrl")); err != nil {
				WriteError(c, err)
				return
			}
			WriteResult(c, simpleActionResult{XMLName: xml.Name{Local: "DeleteQueueResponse"}, ResponseMetadata: Metadata()})

		case "PurgeQueue":
			if err := engine.Purge(Form(c, "QueueUrl")); err != nil {
				WriteError(c, err)
				return
			}
			WriteResult(c, simpleActionResult{XMLName: xml.Name{Local: "PurgeQueueResponse"}, ResponseMetadata: Metadata()})

		case "GetQueueAttributes":
			attrs, counts, err := engine.Attributes(Form(c, "QueueUrl"))
			if err != nil {
				WriteError(c, err)
				return
			}
			WriteResult(c, queueAttributesResult{
				Attributes: []attributeEntry{
					{Name: "ApproximateNumberOfMessages", Value: strconv.Itoa(counts.Visible)},
					{Name: "ApproximateNumberOfMessagesNotVisible", Value: strconv.Itoa(counts.InFlight)},
					{Name: "VisibilityTimeout", Value: strconv.Itoa(int(attrs.VisibilityTimeout.Seconds()))},
					{Name: "FifoQueue", Value: strconv.FormatBool(attrs.FIFO)},
				},
				ResponseMetadata: Metadata(),
			})

		case "SendMessage":
			attrs := map[string]string{}
			for _, entry := range NumberedEntries(c, "MessageAttribute") {
				if name, ok := entry["Name"]; ok {
					attrs[name] = entry["Value.StringValue"]
				}
			}
			var delay time.Duration
			if v := Form(c, "DelaySeconds"); v != "" {
				if secs, err := strconv.Atoi(v); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			id, err := engine.Send(Form(c, "QueueUrl"), Form(c, "MessageBody"), attrs, delay,
				Form(c, "MessageGroupId"), Form(c, "MessageDeduplicationId"))
			if err != nil {
				WriteError(c, err)
				return
			}
			WriteResult(c, sendMessageResult{MessageId: id, ResponseMetadata: Metadata()})

		case "ReceiveMessage":
			max := 1
			if v := Form(c, "MaxNumberOfMessages"); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					max = n
				}
			}
			var wait time.Duration
			if v := Form(c, "WaitTimeSeconds"); v != "" {
				if secs, err := strconv.Atoi(v); err == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
			msgs, err := engine.Receive(Form(c, "QueueUrl"), max, wait)
			if err != nil {
				WriteError(c, err)
				return
			}
			wire := make([]receivedMessageWire, len(msgs))
			for i, m := range msgs {
				wire[i] = receivedMessageWire{MessageId: m.ID, ReceiptHandle: m.ReceiptHandle, Body: m.Body}
			}
			WriteResult(c, receiveMessageResult{Messages: wire, ResponseMetadata: Metadata()})

		case "DeleteMessage":
			if err := engine.Delete(Form(c, "QueueUrl"), Form(c, "ReceiptHandle")); err != nil {
				WriteError(c, err)
				return
			}
			WriteResult(c, simpleActionResult{XMLName: xml.Name{Local: "DeleteMessageResponse"}, ResponseMetadata: Metadata()})

		default:
			WriteError(c, apperrors.Validation("UnknownOperationException", "unsupported action: "+Action(c)))
		}
	})
	return r
}
