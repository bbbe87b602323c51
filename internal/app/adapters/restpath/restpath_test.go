package restpath

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/corestack-dev/corestack/internal/app/engine/objecttables"
)

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestObjectTablesFullLifecycleOverHTTP(t *testing.T) {
	handler := MountObjectTables(objecttables.New())

	rec := doJSON(t, handler, http.MethodPut, "/table-buckets", map[string]string{"name": "b"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create bucket: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var bucketResp struct {
		ARN string `json:"tableBucketARN"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bucketResp); err != nil || bucketResp.ARN == "" {
		t.Fatalf("decode bucket response: %v %s", err, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPut, "/table-buckets/b/namespaces", map[string][]string{"namespace": {"ns"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("create namespace: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPut, "/table-buckets/b/namespaces/ns/tables", map[string]string{"name": "events", "format": "ICEBERG"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create table: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tableResp struct {
		ARN string `json:"tableARN"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tableResp); err != nil || tableResp.ARN == "" {
		t.Fatalf("decode table response: %v %s", err, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/table-buckets/b/namespaces/ns/tables", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list tables: expected 200, got %d", rec.Code)
	}
	var listResp struct {
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil || len(listResp.Tables) != 1 || listResp.Tables[0].Name != "events" {
		t.Fatalf("unexpected list-tables response: %v %s", err, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodDelete, "/table-buckets/b/namespaces/ns/tables/events", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete table: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, "/table-buckets/b/namespaces/ns", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete namespace: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, "/table-buckets/b", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete bucket: expected 204, got %d", rec.Code)
	}
}

func TestObjectTablesCreateTableOnUnknownNamespaceReturnsNotFound(t *testing.T) {
	handler := MountObjectTables(objecttables.New())
	doJSON(t, handler, http.MethodPut, "/table-buckets", map[string]string{"name": "b"})

	rec := doJSON(t, handler, http.MethodPut, "/table-buckets/b/namespaces/ghost/tables", map[string]string{"name": "t", "format": "ICEBERG"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp struct {
		Type string `json:"__type"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil || errResp.Type != "NotFoundException" {
		t.Fatalf("unexpected error envelope: %v %s", err, rec.Body.String())
	}
}

func TestObjectTablesDuplicateNamespaceReturnsConflict(t *testing.T) {
	handler := MountObjectTables(objecttables.New())
	doJSON(t, handler, http.MethodPut, "/table-buckets", map[string]string{"name": "b"})
	doJSON(t, handler, http.MethodPut, "/table-buckets/b/namespaces", map[string][]string{"namespace": {"ns"}})

	rec := doJSON(t, handler, http.MethodPut, "/table-buckets/b/namespaces", map[string][]string{"namespace": {"ns"}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestObjectTablesCreateNamespaceMissingSegmentsReturnsBadRequest(t *testing.T) {
	handler := MountObjectTables(objecttables.New())
	doJSON(t, handler, http.MethodPut, "/table-buckets", map[string]string{"name": "b"})

	rec := doJSON(t, handler, http.MethodPut, "/table-buckets/b/namespaces", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
