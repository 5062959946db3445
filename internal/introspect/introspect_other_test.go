//go:build !linux

package introspect

import "testing"

func TestFallbackSnapshotIsDegraded(t *testing.T) {
	in, err := NewIntrospector()
	if err != nil {
		t.Fatalf("NewIntrospector: %v", err)
	}
	if in.Available() {
		t.Fatal("expected fallback introspector to report unavailable")
	}

	p, err := in.Snapshot(42)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !p.Degraded {
		t.Error("expected a degraded snapshot")
	}
	if p.PID != 42 {
		t.Errorf("expected pid 42, got %d", p.PID)
	}

	if _, err := in.Snapshot(0); err == nil {
		t.Error("expected an error for pid 0")
	}
}
