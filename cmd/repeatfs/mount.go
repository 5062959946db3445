package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/repeatfs/repeatfs/internal/config"
	"github.com/repeatfs/repeatfs/internal/engine"
	"github.com/repeatfs/repeatfs/internal/fsnode"
	"github.com/repeatfs/repeatfs/internal/logging"
	"github.com/repeatfs/repeatfs/internal/registry"
)

var mountLogger = logging.GetLogger().WithPrefix("cmd.mount")

// daemonChildEnv marks a re-executed child process as already detached,
// so mountCmd.Execute doesn't daemonize twice.
const daemonChildEnv = "REPEATFS_DAEMON_CHILD"

type mountCmd struct {
	Foreground        bool   `short:"f" long:"foreground" description:"keep the daemon in the foreground"`
	AllowOther        bool   `short:"a" long:"allow-other" description:"allow other users to access the mount"`
	DisableProvenance bool   `short:"p" long:"disable-provenance" description:"disable provenance tracking (VDF-only mode)"`
	ConfigDir         string `short:"c" long:"config-dir" description:"directory holding repeatfs.conf and the provenance store" default:"."`
	MetricsAddr       string `long:"metrics-addr" description:"serve Prometheus /metrics on this address (disabled if empty)"`

	Args struct {
		Target string `positional-arg-name:"target" required:"yes" description:"source directory to mount"`
		Mount  string `positional-arg-name:"mount" required:"yes" description:"mount point"`
	} `positional-args:"yes"`
}

func (c *mountCmd) Execute(_ []string) error {
	if !c.Foreground && os.Getenv(daemonChildEnv) == "" {
		return daemonize()
	}

	cfg, err := loadOrDefaultConfig(c.ConfigDir)
	if err != nil {
		return err
	}

	sourceAbs, err := filepath.Abs(c.Args.Target)
	if err != nil {
		return fmt.Errorf("mount: resolving target: %w", err)
	}
	mountAbs, err := filepath.Abs(c.Args.Mount)
	if err != nil {
		return fmt.Errorf("mount: resolving mount point: %w", err)
	}

	eng, err := engine.New(cfg, sourceAbs, engine.Options{
		StorePath:       filepath.Join(c.ConfigDir, "repeatfs.db"),
		DisableTracking: c.DisableProvenance,
		DisableMetrics:  c.MetricsAddr == "",
	})
	if err != nil {
		return err
	}
	eng.SetMountPoint(mountAbs)
	defer eng.Shutdown(context.Background())

	if c.MetricsAddr != "" {
		go func() {
			if err := eng.ServeMetrics(c.MetricsAddr); err != nil {
				mountLogger.Error("metrics listener on %s stopped: %v", c.MetricsAddr, err)
			}
		}()
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName("repeatfs"),
		fuse.Subtype("repeatfs"),
		fuse.DefaultPermissions(),
	}
	if c.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	conn, err := fuse.Mount(mountAbs, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer conn.Close()

	reg, err := registry.NewManager(registryPath(c.ConfigDir))
	if err != nil {
		mountLogger.Warn("mount registry unavailable: %v", err)
	} else {
		if err := reg.Register(registry.Mount{
			MountPoint: mountAbs,
			SourceDir:  sourceAbs,
			PID:        os.Getpid(),
			StartedAt:  time.Now().Format(time.RFC3339),
		}); err != nil {
			mountLogger.Warn("failed to register mount: %v", err)
		}
		defer reg.Unregister(mountAbs)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		mountLogger.Info("received signal %v, unmounting", sig)
		if err := fuse.Unmount(mountAbs); err != nil {
			mountLogger.Error("unmount error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	var serveErr error
	go func() {
		defer wg.Done()
		serveErr = fusefs.Serve(conn, fsnode.New(eng))
	}()

	<-conn.Ready
	if err := conn.MountError; err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	mountLogger.Info("mounted %s at %s", sourceAbs, mountAbs)

	wg.Wait()
	return serveErr
}

// daemonize re-executes the current process detached from the
// controlling terminal, approximating original_source's python-daemon
// DaemonContext — Go's runtime offers no raw fork(2), so this self-exec
// plus Setsid is the idiomatic substitute.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("mount: resolving executable for daemonization: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonChildEnv+"=1")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mount: daemonizing: %w", err)
	}
	mountLogger.Info("daemonized as pid %d", cmd.Process.Pid)
	return nil
}

func loadOrDefaultConfig(dir string) (*config.Config, error) {
	cfg, err := config.Load(filepath.Join(dir, configFileName))
	if err != nil {
		mountLogger.Warn("no configuration file in %s, using defaults: %v", dir, err)
		return config.Default(), nil
	}
	return cfg, nil
}

func registryPath(configDir string) string {
	return filepath.Join(configDir, "repeatfs-registry.json")
}
