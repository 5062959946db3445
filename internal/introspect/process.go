// Package introspect implements the process introspector: given a PID,
// produce a snapshot of executable, argv, a subset of environment, cwd,
// start time, parent identity, and executable content hash. The real
// implementation is host-OS specific; see
// introspect_linux.go and introspect_other.go. Grounded on
// original_source/repeatfs/provenance/process_record.py, which reads the
// same /proc fields this package does.
package introspect

import (
	"sync"
	"time"

	"github.com/repeatfs/repeatfs/internal/hashutil"
	"github.com/repeatfs/repeatfs/internal/logging"
)

var logger = logging.GetLogger().WithPrefix("introspect")

// Process is a snapshot of one process's identity and provenance-relevant
// attributes.
type Process struct {
	Host            string
	PID             int
	StartTime       float64 // seconds since epoch, real-valued
	ParentPID       int
	ParentStartTime float64
	Exe             string
	ExeHash         string
	Cmd             []string
	Env             map[string]string
	Cwd             string
	ObservedAt      float64

	// Degraded is true when introspection could not read kernel-exposed
	// process information; only PID and ObservedAt are populated.
	Degraded bool
}

// AllowedEnvVars is the allow-list of environment variable names captured
// in Process.Env. Whether env is captured at spawn or at first
// observation is an open question this implementation resolves by
// capturing at first observation (see DESIGN.md), restricted to a
// conservative allow-list so secrets held in arbitrary env vars never
// reach the provenance store.
var AllowedEnvVars = map[string]bool{
	"PATH":              true,
	"HOME":              true,
	"USER":              true,
	"LANG":              true,
	"LC_ALL":            true,
	"SHELL":             true,
	"PWD":               true,
	"TMPDIR":            true,
	"CONDA_DEFAULT_ENV": true,
	"VIRTUAL_ENV":       true,
}

// Introspector produces a Process snapshot for a given PID.
type Introspector interface {
	// Snapshot returns the current state of pid. If pid has already exited
	// and no cached snapshot exists, returns an error.
	Snapshot(pid int) (*Process, error)

	// Available reports whether real (non-degraded) introspection is
	// possible on this host.
	Available() bool
}

// execHashCache memoizes executable content hashes keyed by (path, size,
// mtime) so a long-lived daemon doesn't re-hash the same binary on every
// process it observes, while still recomputing if the binary changes.
type execHashCache struct {
	mu    sync.Mutex
	byKey map[string]string
}

func newExecHashCache() *execHashCache {
	return &execHashCache{byKey: make(map[string]string)}
}

func (c *execHashCache) hash(path string, key string) (string, error) {
	c.mu.Lock()
	if h, ok := c.byKey[key]; ok {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	h, err := hashutil.HashFile(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.byKey[key] = h
	c.mu.Unlock()

	return h, nil
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
