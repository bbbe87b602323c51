package secretstore

import "testing"

func TestCreateOrUpdateAndGetValueRoundTrip(t *testing.T) {
	e := New()
	if _, err := e.CreateOrUpdate("db/password", "s3cr3t"); err != nil {
		t.Fatalf("create: %v", err)
	}
	s, err := e.GetValue("db/password")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Value != "s3cr3t" {
		t.Fatalf("unexpected value: %+v", s)
	}
	firstVersion := s.Version

	if _, err := e.CreateOrUpdate("db/password", "rotated"); err != nil {
		t.Fatalf("update: %v", err)
	}
	s, err = e.GetValue("db/password")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if s.Value != "rotated" || s.Version == firstVersion {
		t.Fatalf("expected rotated value with a new version, got %+v", s)
	}
}

func TestListNeverReturnsValues(t *testing.T) {
	e := New()
	if _, err := e.CreateOrUpdate("a", "secret-a"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.CreateOrUpdate("b", "secret-b"); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, s := range e.List() {
		if s.Value != "" {
			t.Fatalf("expected List to never include a value, got %+v", s)
		}
	}
}

func TestDeleteUnknownSecretIsNotFound(t *testing.T) {
	e := New()
	if err := e.Delete("ghost"); err == nil {
		t.Fatal("expected NotFound deleting an unknown secret")
	}
}
