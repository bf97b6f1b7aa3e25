package dmap

import (
	"testing"

	"github.com/redfish/redfish/rerr"
)

func TestLookupOnEmptyMap(t *testing.T) {
	d := New()
	if got := d.Lookup("/a"); got != RootDgid {
		t.Fatalf("got %d, want RootDgid", got)
	}
}

// TestAddLookupRemoveScenario mirrors the seed test scenario from the
// spec verbatim: add/lookup/remove sequence with expected dgids at each
// step.
func TestAddLookupRemoveScenario(t *testing.T) {
	d := New()

	if err := d.Add("/a/b", 123); err != nil {
		t.Fatal(err)
	}
	if got := d.Lookup("/a/b"); got != 123 {
		t.Fatalf("lookup(/a/b) = %d, want 123", got)
	}
	if got := d.Lookup("/a"); got != RootDgid {
		t.Fatalf("lookup(/a) = %d, want RootDgid", got)
	}
	if got := d.Lookup("/a/b/c"); got != 123 {
		t.Fatalf("lookup(/a/b/c) = %d, want 123", got)
	}

	if err := d.Add("/a", 456); err != nil {
		t.Fatal(err)
	}
	if got := d.Lookup("/a"); got != 456 {
		t.Fatalf("lookup(/a) = %d, want 456", got)
	}

	if err := d.Remove("/a"); err != nil {
		t.Fatal(err)
	}
	if got := d.Lookup("/a/b"); got != 123 {
		t.Fatalf("lookup(/a/b) = %d, want 123", got)
	}
	if got := d.Lookup("/a"); got != RootDgid {
		t.Fatalf("lookup(/a) = %d, want RootDgid", got)
	}

	if err := d.Remove("/a/b"); err != nil {
		t.Fatal(err)
	}
	if got := d.Lookup("/a/b"); got != RootDgid {
		t.Fatalf("lookup(/a/b) = %d, want RootDgid", got)
	}
}

func TestAddEexistOnDuplicate(t *testing.T) {
	d := New()
	if err := d.Add("/a", 1); err != nil {
		t.Fatal(err)
	}
	err := d.Add("/a", 2)
	if !rerr.Is(err, rerr.Exist) {
		t.Fatalf("expected Exist error, got %v", err)
	}
}

func TestRemoveCannotRemoveRoot(t *testing.T) {
	d := New()
	if err := d.Remove("/"); err == nil {
		t.Fatal("expected error removing root")
	}
}

func TestRemoveNotFound(t *testing.T) {
	d := New()
	if err := d.Remove("/nonexistent"); !rerr.Is(err, rerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCascadeDeleteStopsAtSharedAncestor(t *testing.T) {
	d := New()
	if err := d.Add("/a/b", 1); err != nil {
		t.Fatal(err)
	}
	if err := d.Add("/a/c", 2); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove("/a/b"); err != nil {
		t.Fatal(err)
	}
	// "/a" is a placeholder with a surviving child "/a/c"; it must not
	// be cascade-deleted.
	if got := d.Lookup("/a/c"); got != 2 {
		t.Fatalf("lookup(/a/c) = %d, want 2", got)
	}
}
