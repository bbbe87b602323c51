package objecttables

import (
	"testing"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

func TestFullLifecycleCreateThenCleanup(t *testing.T) {
	e := New()

	bucketARN, err := e.CreateTableBucket("lifecycle-bucket")
	if err != nil || bucketARN == "" {
		t.Fatalf("create table bucket: %v %q", err, bucketARN)
	}

	nsARN, err := e.CreateNamespace("lifecycle-bucket", []string{"lifecycle-ns"})
	if err != nil || nsARN == "" {
		t.Fatalf("create namespace: %v %q", err, nsARN)
	}

	tableARN, err := e.CreateTable("lifecycle-bucket", "lifecycle-ns", "lifecycle-table", "ICEBERG")
	if err != nil || tableARN == "" {
		t.Fatalf("create table: %v %q", err, tableARN)
	}

	info, err := e.GetTable("lifecycle-bucket", "lifecycle-ns", "lifecycle-table")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if info.Name != "lifecycle-table" || info.Format != "ICEBERG" {
		t.Fatalf("unexpected table info: %+v", info)
	}

	if err := e.DeleteTable("lifecycle-bucket", "lifecycle-ns", "lifecycle-table"); err != nil {
		t.Fatalf("delete table: %v", err)
	}
	if err := e.DeleteNamespace("lifecycle-bucket", "lifecycle-ns"); err != nil {
		t.Fatalf("delete namespace: %v", err)
	}
	if err := e.DeleteTableBucket("lifecycle-bucket"); err != nil {
		t.Fatalf("delete table bucket: %v", err)
	}

	names := e.Names()
	for _, n := range names {
		if n == "lifecycle-bucket" {
			t.Fatalf("expected deleted bucket to be gone from registry, got %+v", names)
		}
	}
}

func TestCreateTableOnUnknownNamespaceIsNotFound(t *testing.T) {
	e := New()
	if _, err := e.CreateTableBucket("b"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	_, err := e.CreateTable("b", "ghost-ns", "t", "ICEBERG")
	assertNotFound(t, err)
}

func TestCreateNamespaceOnUnknownBucketIsNotFound(t *testing.T) {
	e := New()
	_, err := e.CreateNamespace("ghost-bucket", []string{"ns"})
	assertNotFound(t, err)
}

func TestCreateNamespaceWithoutSegmentsIsValidationError(t *testing.T) {
	e := New()
	if _, err := e.CreateTableBucket("b"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	_, err := e.CreateNamespace("b", nil)
	se, ok := err.(*apperrors.ServiceError)
	if !ok {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	if se.Code != apperrors.CodeValidation {
		t.Fatalf("expected validation error, got %+v", se)
	}
}

func TestDuplicateNamespaceIsConflict(t *testing.T) {
	e := New()
	if _, err := e.CreateTableBucket("b"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	if _, err := e.CreateNamespace("b", []string{"ns"}); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	_, err := e.CreateNamespace("b", []string{"ns"})
	se, ok := err.(*apperrors.ServiceError)
	if !ok {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	if se.Code != apperrors.CodeAlreadyExists {
		t.Fatalf("expected already-exists error, got %+v", se)
	}
	if status := apperrors.StatusFor(se); status != 409 {
		t.Fatalf("expected 409, got %d", status)
	}
}

func TestDuplicateTableIsConflict(t *testing.T) {
	e := New()
	if _, err := e.CreateTableBucket("b"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	if _, err := e.CreateNamespace("b", []string{"ns"}); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	if _, err := e.CreateTable("b", "ns", "t", "ICEBERG"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err := e.CreateTable("b", "ns", "t", "ICEBERG")
	se, ok := err.(*apperrors.ServiceError)
	if !ok {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	if status := apperrors.StatusFor(se); status != 409 {
		t.Fatalf("expected 409, got %d", status)
	}
}

func TestListTablesEmptyAfterDeletion(t *testing.T) {
	e := New()
	if _, err := e.CreateTableBucket("b"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	if _, err := e.CreateNamespace("b", []string{"ns"}); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	if _, err := e.CreateTable("b", "ns", "t", "ICEBERG"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := e.DeleteTable("b", "ns", "t"); err != nil {
		t.Fatalf("delete table: %v", err)
	}
	tables, err := e.ListTables("b", "ns")
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 0 {
		t.Fatalf("expected no tables after deletion, got %+v", tables)
	}
}

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	se, ok := err.(*apperrors.ServiceError)
	if !ok {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	if se.Code != apperrors.CodeNotFound {
		t.Fatalf("expected not-found error, got %+v", se)
	}
	if status := apperrors.StatusFor(se); status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}
