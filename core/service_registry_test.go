package core

import (
	"testing"

	apperrors "github.com/leeforge/runtimekit/errors"
)

type mockService struct {
	Name string
}

func TestServiceRegistry_RegisterAndResolve(t *testing.T) {
	sr := NewServiceRegistry()
	svc := &mockService{Name: "audit"}

	if err := sr.Register("audit.store", svc); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := Resolve[*mockService](sr, "audit.store")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Name != "audit" {
		t.Errorf("got Name=%q, want %q", got.Name, "audit")
	}
}

func TestServiceRegistry_DuplicateRegisterFails(t *testing.T) {
	sr := NewServiceRegistry()
	svc := &mockService{Name: "a"}

	if err := sr.Register("key", svc); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := sr.Register("key", svc)
	if err == nil {
		t.Fatal("duplicate Register should fail")
	}
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("error kind = %v, want validation", apperrors.From(err).Kind)
	}
}

func TestServiceRegistry_ResolveNotFound(t *testing.T) {
	sr := NewServiceRegistry()

	_, err := Resolve[*mockService](sr, "nonexistent")
	if err == nil {
		t.Fatal("Resolve nonexistent should fail")
	}
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("error kind = %v, want not-found", apperrors.From(err).Kind)
	}
}

func TestServiceRegistry_ResolveWrongType(t *testing.T) {
	sr := NewServiceRegistry()
	if err := sr.Register("key", "a string, not a *mockService"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := Resolve[*mockService](sr, "key")
	if err == nil {
		t.Fatal("Resolve with wrong type should fail")
	}
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("error kind = %v, want validation", apperrors.From(err).Kind)
	}
}

func TestServiceRegistry_MustResolvePanics(t *testing.T) {
	sr := NewServiceRegistry()

	defer func() {
		if recover() == nil {
			t.Fatal("MustResolve of a missing service should panic")
		}
	}()
	MustResolve[*mockService](sr, "missing")
}

func TestServiceRegistry_HasAndKeys(t *testing.T) {
	sr := NewServiceRegistry()
	sr.MustRegister("b.second", 2)
	sr.MustRegister("a.first", 1)

	if !sr.Has("a.first") || sr.Has("c.third") {
		t.Fatal("Has should reflect registered keys")
	}

	keys := sr.Keys()
	if len(keys) != 2 || keys[0] != "a.first" || keys[1] != "b.second" {
		t.Fatalf("Keys() = %v, want sorted [a.first b.second]", keys)
	}
}
