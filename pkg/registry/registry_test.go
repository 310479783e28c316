package registry

import "testing"

func TestBaseRegistry(t *testing.T) {
	r := NewBaseRegistry[string]()

	if err := r.Register("b", "beta"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register("a", "alpha"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.Register("a", "again"); err == nil {
		t.Error("expected an error for a duplicate name")
	}
	if err := r.Register("", "anonymous"); err == nil {
		t.Error("expected an error for an empty name")
	}

	got, ok := r.Get("a")
	if !ok || got != "alpha" {
		t.Errorf("Get(a) = %q, %v", got, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("expected a miss for an unknown name")
	}

	if r.Count() != 2 {
		t.Errorf("expected 2 items, got %d", r.Count())
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected sorted names, got %v", names)
	}

	if err := r.Remove("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Remove("a"); err == nil {
		t.Error("expected an error removing an absent item")
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 item after removal, got %d", r.Count())
	}
}
