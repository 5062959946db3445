// Package registry tracks the set of currently active repeatfs mounts so
// the `shutdown` CLI subcommand can find the daemon owning a given mount
// point.
package registry

// Mount describes one active mount registered by the `mount` subcommand.
type Mount struct {
	MountPoint string `json:"mount_point"`
	SourceDir  string `json:"source_dir"`
	PID        int    `json:"pid"`
	StartedAt  string `json:"started_at"`
}

// Registry is the on-disk representation of all active mounts.
type Registry struct {
	Mounts  map[string]Mount `json:"mounts"` // keyed by mount point
	Version int              `json:"version"`
}
