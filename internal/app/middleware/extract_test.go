package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCamelToKebab(t *testing.T) {
	cases := map[string]string{
		"GetItem":        "get-item",
		"ListObjectsV2":  "list-objects-v2",
		"PutRecordBatch": "put-record-batch",
	}
	for in, want := range cases {
		if got := CamelToKebab(in); got != want {
			t.Fatalf("CamelToKebab(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJSONTargetExtractor(t *testing.T) {
	ext := JSONTargetExtractor("DynamoDB_20120810.")
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Amz-Target", "DynamoDB_20120810.GetItem")
	if got := ext(req, nil); got != "get-item" {
		t.Fatalf("expected get-item, got %q", got)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/", nil)
	req2.Header.Set("X-Amz-Target", "AmazonSQS.SendMessage")
	if got := ext(req2, nil); got != "" {
		t.Fatalf("expected empty for mismatched prefix, got %q", got)
	}
}

func TestFormActionExtractor(t *testing.T) {
	ext := FormActionExtractor()
	req := httptest.NewRequest(http.MethodPost, "/?Action=Publish", nil)
	if got := ext(req, nil); got != "publish" {
		t.Fatalf("expected publish, got %q", got)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/", nil)
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if got := ext(req2, []byte("Action=CreateTopic")); got != "create-topic" {
		t.Fatalf("expected create-topic, got %q", got)
	}
}

func TestSQSDualExtractor(t *testing.T) {
	ext := SQSDualExtractor()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Amz-Target", "AmazonSQS.SendMessage")
	if got := ext(req, nil); got != "send-message" {
		t.Fatalf("expected json-target path, got %q", got)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/?Action=SendMessage", nil)
	if got := ext(req2, nil); got != "send-message" {
		t.Fatalf("expected form-action fallback, got %q", got)
	}
}

func TestS3RESTExtractor(t *testing.T) {
	ext := S3RESTExtractor()

	cases := []struct {
		method, path, query string
		want                 string
	}{
		{http.MethodGet, "/", "", "list-buckets"},
		{http.MethodPut, "/my-bucket", "", "create-bucket"},
		{http.MethodGet, "/my-bucket", "", "list-objects-v2"},
		{http.MethodGet, "/my-bucket", "tagging", "get-bucket-tagging"},
		{http.MethodPut, "/my-bucket/key.txt", "", "put-object"},
		{http.MethodGet, "/my-bucket/key.txt", "", "get-object"},
		{http.MethodDelete, "/my-bucket/key.txt", "", "delete-object"},
	}
	for _, c := range cases {
		url := c.path
		if c.query != "" {
			url += "?" + c.query
		}
		req := httptest.NewRequest(c.method, url, nil)
		if got := ext(req, nil); got != c.want {
			t.Fatalf("%s %s: got %q, want %q", c.method, url, got, c.want)
		}
	}
}

func TestS3TablesRESTExtractor(t *testing.T) {
	ext := S3TablesRESTExtractor()

	cases := []struct {
		method, path string
		want         string
	}{
		{http.MethodGet, "/table-buckets", "list-table-buckets"},
		{http.MethodPut, "/table-buckets", "create-table-bucket"},
		{http.MethodDelete, "/table-buckets/my-bucket", "delete-table-bucket"},
		{http.MethodPut, "/table-buckets/my-bucket/namespaces", "create-namespace"},
		{http.MethodGet, "/table-buckets/my-bucket/namespaces", "list-namespaces"},
		{http.MethodGet, "/table-buckets/my-bucket/namespaces/ns1", "get-namespace"},
		{http.MethodDelete, "/table-buckets/my-bucket/namespaces/ns1", "delete-namespace"},
		{http.MethodPut, "/table-buckets/my-bucket/namespaces/ns1/tables", "create-table"},
		{http.MethodGet, "/table-buckets/my-bucket/namespaces/ns1/tables", "list-tables"},
		{http.MethodGet, "/table-buckets/my-bucket/namespaces/ns1/tables/t1", "get-table"},
		{http.MethodDelete, "/table-buckets/my-bucket/namespaces/ns1/tables/t1", "delete-table"},
	}
	for _, c := range cases {
		req := httptest.NewRequest(c.method, c.path, nil)
		if got := ext(req, nil); got != c.want {
			t.Fatalf("%s %s: got %q, want %q", c.method, c.path, got, c.want)
		}
	}
}

func TestIsInternalPath(t *testing.T) {
	if !IsInternalPath("/_ldk/resources") {
		t.Fatalf("expected internal path to be detected")
	}
	if IsInternalPath("/queues") {
		t.Fatalf("expected non-internal path to not match")
	}
}

func TestExtractOperationSkipsInternalPaths(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/_ldk/resources", nil)
	if got := ExtractOperation(req, "sqs", nil); got != "" {
		t.Fatalf("expected empty operation for internal path, got %q", got)
	}
}

func TestParseForm(t *testing.T) {
	v, err := parseForm([]byte("Action=SendMessage&QueueUrl=" + strings.ReplaceAll("http://x/q", " ", "")))
	if err != nil {
		t.Fatalf("parseForm: %v", err)
	}
	if v.Get("Action") != "SendMessage" {
		t.Fatalf("unexpected form value: %v", v)
	}
}
