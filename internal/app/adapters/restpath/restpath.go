// Package restpath implements the REST-over-path wire dialect (spec.md
// section 6): bucket and key segments live in the URL path, the HTTP verb
// carries the operation, and query parameters select sub-resources
// ("?tagging", "?policy"). Two services share this dialect: object store
// renders XML, table-buckets renders JSON with a "__type" error
// discriminator, matching each service's own wire convention.
//
// Grounded on _examples/r3e-network-service_layer/cmd/gateway/main.go for
// gorilla/mux route registration style, on
// _examples/original_source/src/lws/providers/s3/routes.py for the
// object-store path/verb/query-parameter operation matrix, and on
// _examples/original_source/tests/integration/s3tables/test_tables.py and
// tests/unit/providers/test_s3tables_namespaces.py for the table-buckets
// path shape and JSON body/error conventions.
package restpath

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/corestack-dev/corestack/internal/app/engine/objecttables"
	"github.com/corestack-dev/corestack/internal/app/engine/objectstore"
	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// NewRouter returns a gorilla/mux router with strict-slash redirects
// turned off, so a path with and without a trailing slash are distinct
// routes.
func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.StrictSlash(false)
	return r
}

type errorEnvelope struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

func writeError(w http.ResponseWriter, err error) {
	se := apperrors.Wrap(err)
	status := apperrors.StatusFor(se)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(errorEnvelope{Code: se.Type, Message: se.Message})
}

func writeXML(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(v)
}

type listBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Buckets []bucketWire `xml:"Buckets>Bucket"`
}

type bucketWire struct {
	Name string `xml:"Name"`
}

type listObjectsResult struct {
	XMLName xml.Name     `xml:"ListBucketResult"`
	Name    string       `xml:"Name"`
	Prefix  string       `xml:"Prefix"`
	Contents []objectWire `xml:"Contents"`
}

type objectWire struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	LastModified string `xml:"LastModified"`
}

type tagSetWire struct {
	XMLName xml.Name  `xml:"Tagging"`
	TagSet  []tagWire `xml:"TagSet>Tag"`
}

type tagWire struct {
	Key   string `xml:"Key"`
	Value string `xml:"Value"`
}

// MountObjectStore wires every REST-over-path object-store operation onto
// a gorilla/mux router: bucket-level routes match "/{bucket}" and
// object-level routes match "/{bucket}/{key:.*}" so keys may themselves
// contain slashes.
func MountObjectStore(engine *objectstore.Engine) http.Handler {
	r := NewRouter()

	r.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		writeXML(w, http.StatusOK, bucketsResult(engine))
	}).Methods(http.MethodGet)

	r.HandleFunc("/{bucket}", func(w http.ResponseWriter, req *http.Request) {
		bucket := mux.Vars(req)["bucket"]
		switch req.Method {
		case http.MethodPut:
			if err := engine.CreateBucket(bucket); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			if err := engine.DeleteBucket(bucket); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			if _, ok := req.URL.Query()["tagging"]; ok {
				tags, err := engine.GetTagging(bucket)
				if err != nil {
					writeError(w, err)
					return
				}
				writeXML(w, http.StatusOK, tagSetResult(tags))
				return
			}
			objs, err := engine.List(bucket, req.URL.Query().Get("prefix"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeXML(w, http.StatusOK, listObjectsResult{Name: bucket, Contents: objectsWire(objs)})
		}
	}).Methods(http.MethodPut, http.MethodDelete, http.MethodGet)

	r.HandleFunc("/{bucket}", func(w http.ResponseWriter, req *http.Request) {
		bucket := mux.Vars(req)["bucket"]
		if _, ok := req.URL.Query()["tagging"]; ok {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				writeError(w, apperrors.Validation("InvalidRequest", "read tagging body"))
				return
			}
			var wire tagSetWire
			_ = xml.Unmarshal(body, &wire)
			tags := make(map[string]string, len(wire.TagSet))
			for _, t := range wire.TagSet {
				tags[t.Key] = t.Value
			}
			if err := engine.PutTagging(bucket, tags); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		if _, ok := req.URL.Query()["policy"]; ok {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				writeError(w, apperrors.Validation("InvalidRequest", "read policy body"))
				return
			}
			if err := engine.PutPolicy(bucket, string(body)); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		writeError(w, apperrors.Validation("InvalidRequest", "unsupported bucket sub-resource"))
	}).Methods(http.MethodPost)

	r.HandleFunc("/{bucket}/{key:.*}", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		bucket, key := vars["bucket"], vars["key"]
		switch req.Method {
		case http.MethodPut:
			body, err := io.ReadAll(req.Body)
			if err != nil {
				writeError(w, apperrors.Validation("InvalidRequest", "read object body"))
				return
			}
			contentType := req.Header.Get("Content-Type")
			headers := map[string]string{}
			tags := map[string]string{}
			if err := engine.Put(bucket, key, body, contentType, headers, tags); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)

		case http.MethodGet:
			obj, ok, err := engine.Get(bucket, key)
			if err != nil {
				writeError(w, err)
				return
			}
			if !ok {
				writeError(w, apperrors.NotFound("NoSuchKey", "object does not exist: "+key))
				return
			}
			if obj.ContentType != "" {
				w.Header().Set("Content-Type", obj.ContentType)
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(obj.Body)

		case http.MethodHead:
			obj, ok, err := engine.Head(bucket, key)
			if err != nil {
				writeError(w, err)
				return
			}
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if obj.ContentType != "" {
				w.Header().Set("Content-Type", obj.ContentType)
			}
			w.WriteHeader(http.StatusOK)

		case http.MethodDelete:
			if err := engine.Delete(bucket, key); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	}).Methods(http.MethodPut, http.MethodGet, http.MethodHead, http.MethodDelete)

	return r
}

func bucketsResult(engine *objectstore.Engine) listBucketsResult {
	names := engine.ListBuckets()
	wires := make([]bucketWire, len(names))
	for i, n := range names {
		wires[i] = bucketWire{Name: n}
	}
	return listBucketsResult{Buckets: wires}
}

func tagSetResult(tags map[string]string) tagSetWire {
	wires := make([]tagWire, 0, len(tags))
	for k, v := range tags {
		wires = append(wires, tagWire{Key: k, Value: v})
	}
	return tagSetWire{TagSet: wires}
}

func objectsWire(objs []objectstore.Object) []objectWire {
	wires := make([]objectWire, len(objs))
	for i, o := range objs {
		wires[i] = objectWire{Key: o.Key, Size: len(o.Body), LastModified: o.ModifiedAt.UTC().Format("2006-01-02T15:04:05.000Z")}
	}
	return wires
}

// jsonErrorEnvelope is the table-buckets dialect's error shape: a
// "__type" discriminator alongside a human message, matching the
// jsonrpc package's envelope rather than the bucket dialect's XML one.
type jsonErrorEnvelope struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, err error) {
	se := apperrors.Wrap(err)
	status := apperrors.StatusFor(se)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonErrorEnvelope{Type: se.Type, Message: se.Message})
}

func writeJSONBody(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type tableBucketWire struct {
	Name      string `json:"name"`
	ARN       string `json:"tableBucketARN"`
	CreatedAt string `json:"createdAt"`
}

type listTableBucketsWire struct {
	TableBuckets []tableBucketWire `json:"tableBuckets"`
}

type namespaceWire struct {
	Namespace []string `json:"namespace"`
	ARN       string   `json:"tableBucketARN"`
	CreatedAt string   `json:"createdAt"`
}

type listNamespacesWire struct {
	Namespaces []namespaceWire `json:"namespaces"`
}

type tableWire struct {
	Name      string `json:"name"`
	ARN       string `json:"tableARN"`
	Format    string `json:"format"`
	CreatedAt string `json:"createdAt"`
}

type listTablesWire struct {
	Tables []tableWire `json:"tables"`
}

func tableBucketInfoWire(info objecttables.TableBucketInfo) tableBucketWire {
	return tableBucketWire{Name: info.Name, ARN: info.ARN, CreatedAt: info.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z")}
}

func namespaceInfoWire(info objecttables.NamespaceInfo) namespaceWire {
	return namespaceWire{Namespace: info.Namespace, ARN: info.ARN, CreatedAt: info.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z")}
}

func tableInfoWire(info objecttables.TableInfo) tableWire {
	return tableWire{Name: info.Name, ARN: info.ARN, Format: info.Format, CreatedAt: info.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z")}
}

type createTableBucketRequest struct {
	Name string `json:"name"`
}

type createNamespaceRequest struct {
	Namespace []string `json:"namespace"`
}

type createTableRequest struct {
	Name   string `json:"name"`
	Format string `json:"format"`
}

// MountObjectTables wires every REST-over-path table-buckets operation
// onto a gorilla/mux router: "/table-buckets" for bucket lifecycle and
// listing, "/table-buckets/{bucket}/namespaces[/{namespace}]" for
// namespace lifecycle, and ".../namespaces/{namespace}/tables[/{table}]"
// for table lifecycle, matching the path shape
// _examples/original_source/tests/integration/s3tables/test_tables.py
// drives against the real service.
func MountObjectTables(engine *objecttables.Engine) http.Handler {
	r := NewRouter()

	r.HandleFunc("/table-buckets", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPut:
			var body createTableBucketRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Name == "" {
				writeJSONError(w, apperrors.Validation("BadRequestException", "name is required"))
				return
			}
			arn, err := engine.CreateTableBucket(body.Name)
			if err != nil {
				writeJSONError(w, err)
				return
			}
			writeJSONBody(w, http.StatusOK, tableBucketWire{Name: body.Name, ARN: arn})
		case http.MethodGet:
			buckets := engine.ListTableBuckets()
			wires := make([]tableBucketWire, len(buckets))
			for i, b := range buckets {
				wires[i] = tableBucketInfoWire(b)
			}
			writeJSONBody(w, http.StatusOK, listTableBucketsWire{TableBuckets: wires})
		}
	}).Methods(http.MethodPut, http.MethodGet)

	r.HandleFunc("/table-buckets/{bucket}", func(w http.ResponseWriter, req *http.Request) {
		bucket := mux.Vars(req)["bucket"]
		if err := engine.DeleteTableBucket(bucket); err != nil {
			writeJSONError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	r.HandleFunc("/table-buckets/{bucket}/namespaces", func(w http.ResponseWriter, req *http.Request) {
		bucket := mux.Vars(req)["bucket"]
		switch req.Method {
		case http.MethodPut:
			var body createNamespaceRequest
			_ = json.NewDecoder(req.Body).Decode(&body)
			arn, err := engine.CreateNamespace(bucket, body.Namespace)
			if err != nil {
				writeJSONError(w, err)
				return
			}
			writeJSONBody(w, http.StatusOK, namespaceWire{Namespace: body.Namespace, ARN: arn})
		case http.MethodGet:
			namespaces, err := engine.ListNamespaces(bucket)
			if err != nil {
				writeJSONError(w, err)
				return
			}
			wires := make([]namespaceWire, len(namespaces))
			for i, ns := range namespaces {
				wires[i] = namespaceInfoWire(ns)
			}
			writeJSONBody(w, http.StatusOK, listNamespacesWire{Namespaces: wires})
		}
	}).Methods(http.MethodPut, http.MethodGet)

	r.HandleFunc("/table-buckets/{bucket}/namespaces/{namespace}", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		bucket, namespace := vars["bucket"], vars["namespace"]
		switch req.Method {
		case http.MethodGet:
			info, err := engine.GetNamespace(bucket, namespace)
			if err != nil {
				writeJSONError(w, err)
				return
			}
			writeJSONBody(w, http.StatusOK, namespaceInfoWire(info))
		case http.MethodDelete:
			if err := engine.DeleteNamespace(bucket, namespace); err != nil {
				writeJSONError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	}).Methods(http.MethodGet, http.MethodDelete)

	r.HandleFunc("/table-buckets/{bucket}/namespaces/{namespace}/tables", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		bucket, namespace := vars["bucket"], vars["namespace"]
		switch req.Method {
		case http.MethodPut:
			var body createTableRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Name == "" {
				writeJSONError(w, apperrors.Validation("BadRequestException", "name is required"))
				return
			}
			arn, err := engine.CreateTable(bucket, namespace, body.Name, body.Format)
			if err != nil {
				writeJSONError(w, err)
				return
			}
			writeJSONBody(w, http.StatusOK, tableWire{Name: body.Name, Format: body.Format, ARN: arn})
		case http.MethodGet:
			tables, err := engine.ListTables(bucket, namespace)
			if err != nil {
				writeJSONError(w, err)
				return
			}
			wires := make([]tableWire, len(tables))
			for i, t := range tables {
				wires[i] = tableInfoWire(t)
			}
			writeJSONBody(w, http.StatusOK, listTablesWire{Tables: wires})
		}
	}).Methods(http.MethodPut, http.MethodGet)

	r.HandleFunc("/table-buckets/{bucket}/namespaces/{namespace}/tables/{table}", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		bucket, namespace, table := vars["bucket"], vars["namespace"], vars["table"]
		switch req.Method {
		case http.MethodGet:
			info, err := engine.GetTable(bucket, namespace, table)
			if err != nil {
				writeJSONError(w, err)
				return
			}
			writeJSONBody(w, http.StatusOK, tableInfoWire(info))
		case http.MethodDelete:
			if err := engine.DeleteTable(bucket, namespace, table); err != nil {
				writeJSONError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	}).Methods(http.MethodGet, http.MethodDelete)

	return r
}
