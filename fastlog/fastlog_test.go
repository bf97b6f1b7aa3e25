package fastlog

import "testing"

func TestLogAndSnapshot(t *testing.T) {
	b := &Buf{name: "test"}
	b.Log(ConnEstablished, 1, 2, 3)
	b.Log(TranAllocated, 4, 5, 6)

	var out []Record
	out = b.snapshot(out)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Type != ConnEstablished || out[1].Type != TranAllocated {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestSnapshotWraps(t *testing.T) {
	b := &Buf{name: "wrap"}
	for i := 0; i < ringSize+10; i++ {
		b.Log(TranFreed, uint64(i), 0, 0)
	}
	var out []Record
	out = b.snapshot(out)
	if len(out) != ringSize {
		t.Fatalf("len(out) = %d, want %d", len(out), ringSize)
	}
	// the oldest surviving entry should be index 10 (the ring wrapped
	// past the first 10 writes).
	if out[0].A != 10 {
		t.Fatalf("out[0].A = %d, want 10", out[0].A)
	}
	if out[len(out)-1].A != uint64(ringSize+9) {
		t.Fatalf("out[last].A = %d, want %d", out[len(out)-1].A, ringSize+9)
	}
}

func TestManagerDumpAll(t *testing.T) {
	m := NewManager()
	b := &Buf{name: "mgr-buf"}
	m.register(b)
	b.Log(ConnTimedOut, 42, 0, 0)

	var lines []string
	m.DumpAll(func(line string) { lines = append(lines, line) })
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (header + 1 record): %v", len(lines), lines)
	}
	if lines[0] != "=== fast_log mgr-buf ===" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
}
