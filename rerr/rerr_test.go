package rerr

import (
	"errors"
	"syscall"
	"testing"
)

func TestFromErrnoMapsKnownCodes(t *testing.T) {
	cases := []struct {
		errno syscall.Errno
		code  Code
	}{
		{syscall.ENOENT, NotFound},
		{syscall.EEXIST, Exist},
		{syscall.EPERM, Perm},
		{syscall.EMFILE, TooManyFiles},
		{syscall.ETIMEDOUT, Timedout},
		{syscall.ESHUTDOWN, Shutdown},
	}
	for _, c := range cases {
		e := FromErrno("op", c.errno)
		if e.Code != c.code {
			t.Errorf("errno %v: got code %v, want %v", c.errno, e.Code, c.code)
		}
	}
}

func TestWrapPreservesCode(t *testing.T) {
	inner := New("ostor.acquire", NotFound, "no such chunk")
	wrapped := Wrap("ostor.Read", inner)
	if wrapped.Code != NotFound {
		t.Fatalf("code = %v, want NotFound", wrapped.Code)
	}
	if wrapped.Op != "ostor.Read" {
		t.Fatalf("op = %v", wrapped.Op)
	}
}

func TestIsHelper(t *testing.T) {
	err := New("mstor.Lookup", Perm, "denied")
	if !Is(err, Perm) {
		t.Fatal("expected Is(err, Perm) to be true")
	}
	if Is(err, NotFound) {
		t.Fatal("expected Is(err, NotFound) to be false")
	}
	var target error = New("x", Perm, "")
	if !errors.Is(err, target) {
		t.Fatal("expected errors.Is to match on Code")
	}
}
