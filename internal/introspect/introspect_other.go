//go:build !linux

package introspect

import "fmt"

// fallbackIntrospector is used on hosts without /proc. It returns degraded
// snapshots carrying only the identity fields callers already have.
type fallbackIntrospector struct {
	hostname string
}

// NewIntrospector returns a degraded Introspector on non-Linux hosts.
func NewIntrospector() (Introspector, error) {
	return &fallbackIntrospector{hostname: "unknown"}, nil
}

func (in *fallbackIntrospector) Available() bool { return false }

func (in *fallbackIntrospector) Snapshot(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("introspect: invalid pid %d", pid)
	}
	return &Process{
		Host:       in.hostname,
		PID:        pid,
		ObservedAt: nowSeconds(),
		Degraded:   true,
	}, nil
}
