package mstor

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "mstor.db"), true, 0755)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMkdirsCreatesIntermediateDirectories(t *testing.T) {
	s := openTestStore(t)

	if err := s.Mkdirs("alice", "staff", "/a/b/c", 0755, 1000); err != nil {
		t.Fatalf("Mkdirs: %v", err)
	}

	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		nid, node, err := s.Stat("alice", "staff", p)
		if err != nil {
			t.Fatalf("Stat(%s): %v", p, err)
		}
		if nid == 0 {
			t.Fatalf("Stat(%s): nid is zero", p)
		}
		if !node.IsDir() {
			t.Fatalf("Stat(%s): expected directory", p)
		}
	}
}

func TestMkdirsIdempotentOnExistingDirectory(t *testing.T) {
	s := openTestStore(t)

	if err := s.Mkdirs("alice", "staff", "/a/b", 0755, 1000); err != nil {
		t.Fatalf("first Mkdirs: %v", err)
	}
	if err := s.Mkdirs("alice", "staff", "/a/b", 0755, 2000); err != nil {
		t.Fatalf("second Mkdirs should not fail: %v", err)
	}
}

func TestMkdirsFailsThroughNonDirectory(t *testing.T) {
	s := openTestStore(t)

	if err := s.Mkdirs("alice", "staff", "/a", 0755, 1000); err != nil {
		t.Fatalf("Mkdirs: %v", err)
	}
	if _, err := s.Create("alice", "staff", "/a/file", 0644, false, 1000); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Mkdirs("alice", "staff", "/a/file/b", 0755, 1000); err == nil {
		t.Fatal("expected error creating a directory through a file")
	}
}

func TestStatNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.Stat("alice", "staff", "/nope"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestPermissionDeniedOnExecBit(t *testing.T) {
	s := openTestStore(t)

	if err := s.Mkdirs("alice", "staff", "/secret", 0700, 1000); err != nil {
		t.Fatalf("Mkdirs: %v", err)
	}
	if err := s.Mkdirs("alice", "staff", "/secret/inner", 0755, 1000); err != nil {
		t.Fatalf("owner should be able to traverse own directory: %v", err)
	}
	if err := s.Mkdirs("bob", "other", "/secret/inner2", 0755, 1000); err == nil {
		t.Fatal("expected permission denied for non-owner, non-group user")
	}
}

func TestGroupPermissionGrantsAccess(t *testing.T) {
	s := openTestStore(t)

	if err := s.Mkdirs("alice", "staff", "/shared", 0750, 1000); err != nil {
		t.Fatalf("Mkdirs: %v", err)
	}
	if err := s.Mkdirs("carol", "staff", "/shared/inner", 0755, 1000); err != nil {
		t.Fatalf("group member should traverse: %v", err)
	}
	if err := s.Mkdirs("dave", "others", "/shared/inner2", 0755, 1000); err == nil {
		t.Fatal("expected permission denied for user outside owner and group")
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Create("alice", "staff", "/f", 0644, false, 1000); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create("alice", "staff", "/f", 0644, false, 1000); err == nil {
		t.Fatal("expected EEXIST on duplicate create")
	}
}

func TestNextNidSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mstor.db")

	s, err := Open(path, true, 0755)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	firstNid, err := s.Create("alice", "staff", "/f1", 0644, false, 1000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Close()

	s2, err := Open(path, false, 0755)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	secondNid, err := s2.Create("alice", "staff", "/f2", 0644, false, 1000)
	if err != nil {
		t.Fatalf("Create after reopen: %v", err)
	}
	if secondNid <= firstNid {
		t.Fatalf("expected growing nid after reopen, got %d then %d", firstNid, secondNid)
	}
}
