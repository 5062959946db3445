package main

import (
	"fmt"

	"bazil.org/fuse"

	"github.com/repeatfs/repeatfs/internal/logging"
	"github.com/repeatfs/repeatfs/internal/registry"
)

var shutdownLogger = logging.GetLogger().WithPrefix("cmd.shutdown")

type shutdownCmd struct {
	Mount     string `short:"m" long:"mount" description:"mount point to shut down; if omitted, every registered mount is shut down"`
	ConfigDir string `short:"c" long:"config-dir" description:"directory holding the mount registry" default:"."`
}

func (c *shutdownCmd) Execute(_ []string) error {
	reg, err := registry.NewManager(registryPath(c.ConfigDir))
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	r, err := reg.Load()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if len(r.Mounts) == 0 {
		shutdownLogger.Info("no active mounts registered")
		return nil
	}

	var targets []registry.Mount
	if c.Mount != "" {
		m, ok := r.Mounts[c.Mount]
		if !ok {
			return fmt.Errorf("shutdown: no registered mount at %s", c.Mount)
		}
		targets = []registry.Mount{m}
	} else {
		for _, m := range r.Mounts {
			targets = append(targets, m)
		}
	}

	var firstErr error
	for _, m := range targets {
		shutdownLogger.Info("unmounting %s (pid %d)", m.MountPoint, m.PID)
		if err := fuse.Unmount(m.MountPoint); err != nil {
			shutdownLogger.Error("unmount of %s failed: %v", m.MountPoint, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := reg.Unregister(m.MountPoint); err != nil {
			shutdownLogger.Warn("failed to unregister %s: %v", m.MountPoint, err)
		}
	}
	return firstErr
}
