// Package objecttables implements the table-buckets service engine: a
// table bucket owns namespaces, a namespace owns Iceberg-backed tables.
// Every level is addressed by name and reachable only through its parent,
// mirroring the object-store engine's bucket/object nesting one level
// deeper.
//
// Grounded on _examples/original_source/tests/integration/s3tables/
// test_tables.py and tests/unit/providers/test_s3tables_namespaces.py
// (no provider source survived the distillation, only its integration and
// unit tests): table-bucket, namespace, and table names are each
// idempotent-on-create failures (409 ConflictException on a duplicate
// name) rather than the object-store bucket's idempotent re-declare, a
// missing parent resolves as 404 NotFoundException before any conflict or
// validation check runs, and a create-namespace call with no namespace
// entries is a 400 BadRequestException.
package objecttables

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// TableBucketInfo describes a table bucket.
type TableBucketInfo struct {
	Name      string
	ARN       string
	CreatedAt time.Time
}

// NamespaceInfo describes a namespace owned by a table bucket.
type NamespaceInfo struct {
	Namespace []string
	ARN       string
	CreatedAt time.Time
}

// TableInfo describes a table owned by a namespace.
type TableInfo struct {
	Name      string
	Namespace []string
	Format    string
	ARN       string
	CreatedAt time.Time
}

type tableEntry struct {
	name      string
	format    string
	arn       string
	createdAt time.Time
}

type namespaceEntry struct {
	mu        sync.RWMutex
	names     []string
	arn       string
	createdAt time.Time
	tables    map[string]*tableEntry
}

type tableBucketEntry struct {
	mu         sync.RWMutex
	name       string
	arn        string
	createdAt  time.Time
	namespaces map[string]*namespaceEntry
}

// Engine owns every table bucket.
type Engine struct {
	mu      sync.RWMutex
	buckets map[string]*tableBucketEntry
}

// New constructs an empty table-buckets engine.
func New() *Engine {
	return &Engine{buckets: make(map[string]*tableBucketEntry)}
}

func bucketARN(name string) string {
	return fmt.Sprintf("arn:aws:s3tables:us-east-1:000000000000:bucket/%s", name)
}

func namespaceARN(bucket string, namespace []string) string {
	return fmt.Sprintf("%s/namespace/%s", bucketARN(bucket), strings.Join(namespace, "."))
}

func tableARN(bucket string, namespace []string, table string) string {
	return fmt.Sprintf("%s/table/%s", namespaceARN(bucket, namespace), table)
}

// CreateTableBucket declares a table bucket, returning its ARN. A
// duplicate name is a conflict, not an idempotent no-op: table buckets
// carry child namespaces and tables whose presence a silent success would
// hide from the caller.
func (e *Engine) CreateTableBucket(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buckets[name]; ok {
		return "", apperrors.AlreadyExists("ConflictException", "table bucket already exists: "+name)
	}
	arn := bucketARN(name)
	e.buckets[name] = &tableBucketEntry{
		name:       name,
		arn:        arn,
		createdAt:  time.Now(),
		namespaces: make(map[string]*namespaceEntry),
	}
	return arn, nil
}

// DeleteTableBucket removes a table bucket and every namespace and table
// it owns.
func (e *Engine) DeleteTableBucket(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buckets[name]; !ok {
		return apperrors.NotFound("NotFoundException", "table bucket does not exist: "+name)
	}
	delete(e.buckets, name)
	return nil
}

// ListTableBuckets returns every table bucket, sorted by name.
func (e *Engine) ListTableBuckets() []TableBucketInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]TableBucketInfo, 0, len(e.buckets))
	for _, b := range e.buckets {
		out = append(out, TableBucketInfo{Name: b.name, ARN: b.arn, CreatedAt: b.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) lookupBucket(name string) (*tableBucketEntry, error) {
	e.mu.RLock()
	b, ok := e.buckets[name]
	e.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("NotFoundException", "table bucket does not exist: "+name)
	}
	return b, nil
}

func namespaceKey(namespace []string) string { return strings.Join(namespace, ".") }

// CreateNamespace declares a namespace on a table bucket, returning its
// ARN. An empty namespace list is a validation error; a duplicate
// namespace name on the same bucket is a conflict.
func (e *Engine) CreateNamespace(bucketName string, namespace []string) (string, error) {
	b, err := e.lookupBucket(bucketName)
	if err != nil {
		return "", err
	}
	if len(namespace) == 0 {
		return "", apperrors.Validation("BadRequestException", "namespace must name at least one path segment")
	}
	key := namespaceKey(namespace)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.namespaces[key]; ok {
		return "", apperrors.AlreadyExists("ConflictException", "namespace already exists: "+key)
	}
	arn := namespaceARN(bucketName, namespace)
	b.namespaces[key] = &namespaceEntry{
		names:     append([]string(nil), namespace...),
		arn:       arn,
		createdAt: time.Now(),
		tables:    make(map[string]*tableEntry),
	}
	return arn, nil
}

// ListNamespaces returns every namespace on a table bucket, sorted by
// name.
func (e *Engine) ListNamespaces(bucketName string) ([]NamespaceInfo, error) {
	b, err := e.lookupBucket(bucketName)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]NamespaceInfo, 0, len(b.namespaces))
	for _, ns := range b.namespaces {
		out = append(out, NamespaceInfo{Namespace: ns.names, ARN: ns.arn, CreatedAt: ns.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return namespaceKey(out[i].Namespace) < namespaceKey(out[j].Namespace) })
	return out, nil
}

func (e *Engine) lookupNamespace(bucketName, namespaceName string) (*tableBucketEntry, *namespaceEntry, error) {
	b, err := e.lookupBucket(bucketName)
	if err != nil {
		return nil, nil, err
	}
	b.mu.RLock()
	ns, ok := b.namespaces[namespaceName]
	b.mu.RUnlock()
	if !ok {
		return nil, nil, apperrors.NotFound("NotFoundException", "namespace does not exist: "+namespaceName)
	}
	return b, ns, nil
}

// GetNamespace returns a namespace's details.
func (e *Engine) GetNamespace(bucketName, namespaceName string) (NamespaceInfo, error) {
	_, ns, err := e.lookupNamespace(bucketName, namespaceName)
	if err != nil {
		return NamespaceInfo{}, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return NamespaceInfo{Namespace: ns.names, ARN: ns.arn, CreatedAt: ns.createdAt}, nil
}

// DeleteNamespace removes a namespace and every table it owns.
func (e *Engine) DeleteNamespace(bucketName, namespaceName string) error {
	b, _, err := e.lookupNamespace(bucketName, namespaceName)
	if err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.namespaces, namespaceName)
	b.mu.Unlock()
	return nil
}

// CreateTable declares a table in a namespace, returning its ARN. A
// duplicate table name on the same namespace is a conflict.
func (e *Engine) CreateTable(bucketName, namespaceName, tableName, format string) (string, error) {
	_, ns, err := e.lookupNamespace(bucketName, namespaceName)
	if err != nil {
		return "", err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if _, ok := ns.tables[tableName]; ok {
		return "", apperrors.AlreadyExists("ConflictException", "table already exists: "+tableName)
	}
	arn := tableARN(bucketName, ns.names, tableName)
	ns.tables[tableName] = &tableEntry{name: tableName, format: format, arn: arn, createdAt: time.Now()}
	return arn, nil
}

// ListTables returns every table in a namespace, sorted by name.
func (e *Engine) ListTables(bucketName, namespaceName string) ([]TableInfo, error) {
	_, ns, err := e.lookupNamespace(bucketName, namespaceName)
	if err != nil {
		return nil, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make([]TableInfo, 0, len(ns.tables))
	for _, t := range ns.tables {
		out = append(out, TableInfo{Name: t.name, Namespace: ns.names, Format: t.format, ARN: t.arn, CreatedAt: t.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (e *Engine) lookupTable(bucketName, namespaceName, tableName string) (*namespaceEntry, *tableEntry, error) {
	_, ns, err := e.lookupNamespace(bucketName, namespaceName)
	if err != nil {
		return nil, nil, err
	}
	ns.mu.RLock()
	t, ok := ns.tables[tableName]
	ns.mu.RUnlock()
	if !ok {
		return nil, nil, apperrors.NotFound("NotFoundException", "table does not exist: "+tableName)
	}
	return ns, t, nil
}

// GetTable returns a table's details.
func (e *Engine) GetTable(bucketName, namespaceName, tableName string) (TableInfo, error) {
	ns, t, err := e.lookupTable(bucketName, namespaceName, tableName)
	if err != nil {
		return TableInfo{}, err
	}
	return TableInfo{Name: t.name, Namespace: ns.names, Format: t.format, ARN: t.arn, CreatedAt: t.createdAt}, nil
}

// DeleteTable removes a table from its namespace.
func (e *Engine) DeleteTable(bucketName, namespaceName, tableName string) error {
	ns, _, err := e.lookupTable(bucketName, namespaceName, tableName)
	if err != nil {
		return err
	}
	ns.mu.Lock()
	delete(ns.tables, tableName)
	ns.mu.Unlock()
	return nil
}

// Names returns the sorted table-bucket-name registry entries the
// dispatch fabric consults for name resolution.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.buckets))
	for name := range e.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
