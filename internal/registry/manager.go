package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/repeatfs/repeatfs/internal/logging"
)

var logger = logging.GetLogger().WithPrefix("registry")

// Manager loads and saves the mount registry, adapted from the teacher's
// internal/state.Manager: atomic JSON writes with a rolling set of
// timestamped backups, but tracking active mounts instead of virtual path
// mappings.
type Manager struct {
	registryPath string
	backupDir    string
	backupCount  int
	mu           sync.Mutex
}

// NewManager creates a manager for the registry file at path, creating its
// parent directory and a sibling backup directory if needed.
func NewManager(path string) (*Manager, error) {
	logger.Debug("creating registry manager at %s", path)

	absPath := path
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		absPath = filepath.Join(cwd, path)
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory %s: %w", dir, err)
	}

	backupDir := filepath.Join(dir, ".repeatfs-registry-backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, err)
	}

	return &Manager{
		registryPath: absPath,
		backupDir:    backupDir,
		backupCount:  5,
	}, nil
}

// Load reads the registry from disk, returning an empty registry if none
// exists yet.
func (m *Manager) Load() (*Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{Mounts: make(map[string]Mount), Version: 1}, nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	if len(data) == 0 {
		return &Registry{Mounts: make(map[string]Mount), Version: 1}, nil
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if reg.Mounts == nil {
		reg.Mounts = make(map[string]Mount)
	}

	return &reg, nil
}

// Save persists the registry, backing up the previous version first.
func (m *Manager) Save(reg *Registry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.backup(); err != nil {
		logger.Warn("failed to back up registry: %v", err)
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmp := m.registryPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write registry temp file: %w", err)
	}
	if err := os.Rename(tmp, m.registryPath); err != nil {
		return fmt.Errorf("failed to install registry file: %w", err)
	}

	return nil
}

// Register adds or updates a mount entry and persists the registry.
func (m *Manager) Register(mount Mount) error {
	reg, err := m.Load()
	if err != nil {
		return err
	}
	reg.Mounts[mount.MountPoint] = mount
	return m.Save(reg)
}

// Unregister removes a mount entry and persists the registry.
func (m *Manager) Unregister(mountPoint string) error {
	reg, err := m.Load()
	if err != nil {
		return err
	}
	delete(reg.Mounts, mountPoint)
	return m.Save(reg)
}

func (m *Manager) backup() error {
	if _, err := os.Stat(m.registryPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(m.registryPath)
	if err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405.000000")
	backupPath := filepath.Join(m.backupDir, fmt.Sprintf("registry-%s.json", timestamp))
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return m.cleanupOldBackups()
}

func (m *Manager) cleanupOldBackups() error {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return err
	}

	type backup struct {
		path    string
		modTime time.Time
	}

	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{path: filepath.Join(m.backupDir, entry.Name()), modTime: info.ModTime()})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].modTime.After(backups[j].modTime) })

	for i := m.backupCount; i < len(backups); i++ {
		if err := os.Remove(backups[i].path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i].path, err)
		}
	}

	return nil
}
