// Package formaction implements the Action form-encoded (or query-param)
// + XML wire dialect (spec.md section 6): an "Action" field selects the
// operation, numbered entries like "MessageAttributes.entry.N.*" carry
// repeated structures, and responses render as XML.
//
// Grounded on _examples/original_source/src/lws/providers/sqs/routes.py
// and sns/routes.py for the Action surface and numbered-entry parsing,
// and on the teacher go.mod's gin-gonic/gin dependency for gin's XML
// renderer, which is exactly what this dialect's response envelope needs.
package formaction

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// NewRouter constructs the gin engine a service mounts its single
// dispatch route onto, with gin's default recovery middleware but no
// request logging (the shared middleware chain owns that concern).
func NewRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// Action resolves the operation name from the "Action" form field or
// query parameter, binding the request's form values first so repeated
// POST reads see the same values.
func Action(c *gin.Context) string {
	if err := c.Request.ParseForm(); err != nil {
		return c.Query("Action")
	}
	if action := c.Request.PostFormValue("Action"); action != "" {
		return action
	}
	return c.Request.Form.Get("Action")
}

// Form returns a form value, checking both the parsed POST form and the
// query string.
func Form(c *gin.Context, key string) string {
	if v := c.Request.PostFormValue(key); v != "" {
		return v
	}
	return c.Request.Form.Get(key)
}

// NumberedEntries collects every value for keys of the shape
// "prefix.N.suffix" (1-indexed, contiguous), returning them as
// prefix-stripped maps in index order - the shape SNS uses for
// MessageAttributes.entry.N.Name / .Value.StringValue and SQS for
// MessageAttribute.N.Name / .Value.StringValue.
func NumberedEntries(c *gin.Context, prefix string) []map[string]string {
	var entries []map[string]string
	for i := 1; ; i++ {
		entryPrefix := prefix + "." + strconv.Itoa(i) + "."
		found := false
		entry := map[string]string{}
		for key, values := range c.Request.Form {
			if strings.HasPrefix(key, entryPrefix) && len(values) > 0 {
				found = true
				entry[strings.TrimPrefix(key, entryPrefix)] = values[0]
			}
		}
		if !found {
			break
		}
		entries = append(entries, entry)
	}
	return entries
}

// NumberedValues collects values for keys of the shape "prefix.N"
// (1-indexed, contiguous), the shape identity's Action lists use (e.g.
// "Statement.1.Action.1").
func NumberedValues(c *gin.Context, prefix string) []string {
	var values []string
	for i := 1; ; i++ {
		key := prefix + "." + strconv.Itoa(i)
		v := Form(c, key)
		if v == "" {
			break
		}
		values = append(values, v)
	}
	return values
}

// ErrorEnvelope is the IAM/SQS/SNS-style XML error body, matching
// spec.md section 6's "XML (identity dialect)" shape, reused here for
// every Action-dialect error since the field set is identical.
type ErrorEnvelope struct {
	XMLName   string      `xml:"ErrorResponse"`
	ErrorBody ErrorDetail `xml:"Error"`
	RequestID string      `xml:"RequestId"`
}

// ErrorDetail is the inner <Error> element.
type ErrorDetail struct {
	Type    string `xml:"Type"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// WriteError renders err as the Action dialect's XML error envelope.
func WriteError(c *gin.Context, err error) {
	se := apperrors.Wrap(err)
	status := apperrors.StatusFor(se)
	c.XML(status, ErrorEnvelope{
		ErrorBody: ErrorDetail{Type: "Sender", Code: se.Type, Message: se.Message},
		RequestID: "00000000-0000-0000-0000-000000000000",
	})
}

// WriteResult renders v as an XML response body with status 200.
func WriteResult(c *gin.Context, v interface{}) {
	c.XML(http.StatusOK, v)
}

// ResponseMetadata is the trailing element every Action-dialect success
// response carries.
type ResponseMetadata struct {
	RequestId string `xml:"RequestId"`
}

const requestID = "00000000-0000-0000-0000-000000000000"

// Metadata builds a populated ResponseMetadata.
func Metadata() ResponseMetadata { return ResponseMetadata{RequestId: requestID} }
