//go:build linux

package introspect

import (
	"os"
	"testing"
)

func TestSnapshotSelf(t *testing.T) {
	in, err := NewIntrospector()
	if err != nil {
		t.Fatalf("NewIntrospector: %v", err)
	}
	if !in.Available() {
		t.Fatal("expected Linux introspector to report Available")
	}

	p, err := in.Snapshot(os.Getpid())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if p.PID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), p.PID)
	}
	if p.StartTime <= 0 {
		t.Error("expected a positive start time")
	}
	if p.Degraded {
		t.Error("did not expect a degraded snapshot on linux")
	}
	if len(p.Cmd) == 0 {
		t.Error("expected a non-empty cmdline")
	}
}

func TestSnapshotUnknownPidFallsBackOrErrors(t *testing.T) {
	in, err := NewIntrospector()
	if err != nil {
		t.Fatalf("NewIntrospector: %v", err)
	}

	// pid 1 always exists on a running Linux system (init/systemd), but
	// its exe, environ and cwd may be unreadable without privilege;
	// Snapshot then leaves those fields empty. Any result is acceptable
	// here, a panic is not.
	_, _ = in.Snapshot(1)

	if _, err := in.Snapshot(-1); err == nil {
		t.Error("expected an error for an impossible pid")
	}
}

func TestReadBootTimeIsStable(t *testing.T) {
	a, err := readBootTime()
	if err != nil {
		t.Fatalf("readBootTime: %v", err)
	}
	b, err := readBootTime()
	if err != nil {
		t.Fatalf("readBootTime: %v", err)
	}
	if a != b {
		t.Errorf("expected boot time to be stable across reads, got %v and %v", a, b)
	}
}
