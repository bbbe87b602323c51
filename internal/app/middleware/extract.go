// Package middleware implements the per-adapter request chain every
// protocol adapter wraps its operation handler in: request logging,
// operation mocking, identity authorization, and chaos injection
// (spec.md 4.8).
//
// Grounded on _examples/original_source/src/lws/providers/_shared/
// aws_operation_mock.py, aws_chaos.py, and aws_iam_auth.py: this file
// ports the operation-name extraction layer those two middlewares share
// (camel_to_kebab, the per-service extractor table, the S3 and table-bucket
// REST-path operation mappings).
package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

func parseForm(body []byte) (url.Values, error) {
	return url.ParseQuery(string(body))
}

var (
	kebabBoundary1 = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	kebabBoundary2 = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// CamelToKebab converts an AWS-style operation name ("GetItem",
// "ListObjectsV2") to its normalized kebab-case form ("get-item",
// "list-objects-v2").
func CamelToKebab(name string) string {
	out := kebabBoundary1.ReplaceAllString(name, "$1-$2")
	out = kebabBoundary2.ReplaceAllString(out, "$1-$2")
	return strings.ToLower(out)
}

// Extractor derives the normalized operation name for a request, or ""
// if it cannot be determined.
type Extractor func(r *http.Request, body []byte) string

// JSONTargetExtractor extracts the operation from an X-Amz-Target header
// carrying the given service prefix, e.g. "DynamoDB_20120810.GetItem".
func JSONTargetExtractor(prefix string) Extractor {
	return func(r *http.Request, _ []byte) string {
		target := r.Header.Get("X-Amz-Target")
		if !strings.HasPrefix(target, prefix) {
			return ""
		}
		return CamelToKebab(strings.TrimPrefix(target, prefix))
	}
}

// FormActionExtractor extracts the operation from an "Action" query
// parameter or, for form-encoded bodies, an "Action" form field.
func FormActionExtractor() Extractor {
	return func(r *http.Request, body []byte) string {
		action := r.URL.Query().Get("Action")
		if action == "" && strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
			if values, err := parseForm(body); err == nil {
				action = values.Get("Action")
			}
		}
		if action == "" {
			return ""
		}
		return CamelToKebab(action)
	}
}

// SQSDualExtractor tries the JSON-target dialect first and falls back to
// the form-action dialect, matching SQS's dual wire-format support.
func SQSDualExtractor() Extractor {
	jsonExt := JSONTargetExtractor("AmazonSQS.")
	formExt := FormActionExtractor()
	return func(r *http.Request, body []byte) string {
		if op := jsonExt(r, body); op != "" {
			return op
		}
		return formExt(r, body)
	}
}

// S3RESTExtractor maps (method, path, query) onto an S3 operation name.
func S3RESTExtractor() Extractor {
	return func(r *http.Request, _ []byte) string {
		segments := pathSegments(r.URL.Path)
		qp := r.URL.Query()
		switch len(segments) {
		case 0:
			if r.Method == http.MethodGet {
				return "list-buckets"
			}
			return ""
		case 1:
			return s3BucketOp(r.Method, qp)
		default:
			return s3ObjectOp(r.Method, qp, r)
		}
	}
}

// S3TablesRESTExtractor maps (method, path) onto a table-buckets operation
// name. Path shape: /table-buckets[/{bucket}[/namespaces[/{namespace}
// [/tables[/{table}]]]]].
func S3TablesRESTExtractor() Extractor {
	return func(r *http.Request, _ []byte) string {
		segments := pathSegments(r.URL.Path)
		method := r.Method
		switch len(segments) {
		case 1: // /table-buckets
			if method == http.MethodGet {
				return "list-table-buckets"
			}
			if method == http.MethodPut {
				return "create-table-bucket"
			}
		case 2: // /table-buckets/{bucket}
			if method == http.MethodDelete {
				return "delete-table-bucket"
			}
		case 3: // /table-buckets/{bucket}/namespaces
			if method == http.MethodGet {
				return "list-namespaces"
			}
			if method == http.MethodPut {
				return "create-namespace"
			}
		case 4: // /table-buckets/{bucket}/namespaces/{namespace}
			switch method {
			case http.MethodGet:
				return "get-namespace"
			case http.MethodDelete:
				return "delete-namespace"
			}
		case 5: // /table-buckets/{bucket}/namespaces/{namespace}/tables
			if method == http.MethodGet {
				return "list-tables"
			}
			if method == http.MethodPut {
				return "create-table"
			}
		case 6: // /table-buckets/{bucket}/namespaces/{namespace}/tables/{table}
			switch method {
			case http.MethodGet:
				return "get-table"
			case http.MethodDelete:
				return "delete-table"
			}
		}
		return ""
	}
}

func pathSegments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func s3BucketOp(method string, qp map[string][]string) string {
	type key struct{ method, param string }
	bucketOps := map[key]string{
		{"GET", "location"}:     "get-bucket-location",
		{"GET", "tagging"}:      "get-bucket-tagging",
		{"PUT", "tagging"}:      "put-bucket-tagging",
		{"DELETE", "tagging"}:   "delete-bucket-tagging",
		{"GET", "policy"}:       "get-bucket-policy",
		{"PUT", "policy"}:       "put-bucket-policy",
		{"GET", "notification"}: "get-bucket-notification-configuration",
		{"PUT", "notification"}: "put-bucket-notification-configuration",
		{"GET", "website"}:      "get-bucket-website",
		{"PUT", "website"}:      "put-bucket-website",
		{"DELETE", "website"}:   "delete-bucket-website",
		{"GET", "versioning"}:   "get-bucket-versioning",
		{"GET", "acl"}:          "get-bucket-acl",
		{"POST", "delete"}:      "delete-objects",
	}
	for k, op := range bucketOps {
		if method == k.method {
			if _, present := qp[k.param]; present {
				return op
			}
		}
	}
	switch method {
	case http.MethodPut:
		return "create-bucket"
	case http.MethodDelete:
		return "delete-bucket"
	case http.MethodHead:
		return "head-bucket"
	case http.MethodGet:
		return "list-objects-v2"
	}
	return ""
}

func s3ObjectOp(method string, qp map[string][]string, r *http.Request) string {
	_, hasUploadID := qp["uploadId"]
	_, hasPartNumber := qp["partNumber"]
	_, hasUploads := qp["uploads"]
	switch method {
	case http.MethodPut:
		if hasPartNumber && hasUploadID {
			return "upload-part"
		}
		if r.Header.Get("X-Amz-Copy-Source") != "" {
			return "copy-object"
		}
		return "put-object"
	case http.MethodPost:
		if hasUploads {
			return "create-multipart-upload"
		}
		if hasUploadID {
			return "complete-multipart-upload"
		}
		return ""
	case http.MethodGet:
		if hasUploadID {
			return "list-parts"
		}
		return "get-object"
	case http.MethodDelete:
		if hasUploadID {
			return "abort-multipart-upload"
		}
		return "delete-object"
	case http.MethodHead:
		return "head-object"
	}
	return ""
}

// ServiceExtractors maps every emulated service to its operation
// extractor.
var ServiceExtractors = map[string]Extractor{
	"dynamodb":       JSONTargetExtractor("DynamoDB_20120810."),
	"sqs":            SQSDualExtractor(),
	"sns":            FormActionExtractor(),
	"events":         JSONTargetExtractor("AWSEvents."),
	"stepfunctions":  JSONTargetExtractor("AWSStepFunctions."),
	"cognito-idp":    JSONTargetExtractor("AWSCognitoIdentityProviderService."),
	"ssm":            JSONTargetExtractor("AmazonSSM."),
	"secretsmanager": JSONTargetExtractor("secretsmanager."),
	"s3":             S3RESTExtractor(),
	"s3tables":       S3TablesRESTExtractor(),
	"identity":       FormActionExtractor(),
}

// internalPrefix marks paths the chain's mock/auth/chaos steps never
// apply to (spec.md 4.8: "paths under an internal management prefix
// bypass middleware steps 2-4").
const internalPrefix = "/_ldk/"

// IsInternalPath reports whether path is under the control-plane prefix.
func IsInternalPath(path string) bool {
	return strings.HasPrefix(path, internalPrefix)
}

// ExtractOperation resolves the normalized operation name for a request
// against the named service, or "" if none can be determined.
func ExtractOperation(r *http.Request, service string, body []byte) string {
	if IsInternalPath(r.URL.Path) {
		return ""
	}
	extractor, ok := ServiceExtractors[service]
	if !ok {
		return ""
	}
	return extractor(r, body)
}
