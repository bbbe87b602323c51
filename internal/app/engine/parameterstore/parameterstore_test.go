package parameterstore

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	e := New()
	if _, err := e.Put("/app/db/host", "localhost", TypeString); err != nil {
		t.Fatalf("put: %v", err)
	}
	p, err := e.Get("/app/db/host")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Value != "localhost" || p.Version != 1 {
		t.Fatalf("unexpected parameter: %+v", p)
	}

	if _, err := e.Put("/app/db/host", "db.internal", TypeString); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	p, err = e.Get("/app/db/host")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if p.Value != "db.internal" || p.Version != 2 {
		t.Fatalf("expected version bump on overwrite, got %+v", p)
	}
}

func TestGetByPathReturnsSortedChildren(t *testing.T) {
	e := New()
	_, _ = e.Put("/app/b", "2", TypeString)
	_, _ = e.Put("/app/a", "1", TypeString)
	_, _ = e.Put("/other/c", "3", TypeString)

	params := e.GetByPath("/app/")
	if len(params) != 2 || params[0].Name != "/app/a" || params[1].Name != "/app/b" {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func TestDeleteUnknownParameterIsNotFound(t *testing.T) {
	e := New()
	if err := e.Delete("/ghost"); err == nil {
		t.Fatal("expected NotFound deleting an unknown parameter")
	}
}
