// Package engine assembles the path translator, VDF resolver and executor,
// provenance store and tracker, process introspector, plugin dispatcher,
// and ambient stack (config, logging, metrics) into one explicit value
// that is threaded through the FUSE glue layer and the CLI: mount state is
// an explicit "engine" value rather than an ambient singleton, so plugins
// receive this value's Dispatcher as an argument rather than reaching for
// global state.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/repeatfs/repeatfs/internal/config"
	"github.com/repeatfs/repeatfs/internal/introspect"
	"github.com/repeatfs/repeatfs/internal/logging"
	"github.com/repeatfs/repeatfs/internal/metrics"
	"github.com/repeatfs/repeatfs/internal/plugin"
	"github.com/repeatfs/repeatfs/internal/store"
	"github.com/repeatfs/repeatfs/internal/tracker"
	"github.com/repeatfs/repeatfs/internal/vdf"
	"github.com/repeatfs/repeatfs/internal/vpath"
)

var logger = logging.GetLogger().WithPrefix("engine")

// Engine is the mount-scoped value holding every component a running
// mount needs: the path Translator, the VDF Resolver and Executor, the
// Provenance Store, the Provenance Tracker, the process Introspector, the
// plugin Dispatcher, and the metrics collector set. internal/fsnode calls
// exclusively through this value; it never imports the component packages
// directly.
type Engine struct {
	Config     *config.Config
	SourceRoot string
	Host       string

	// MountPoint is set by the CLI once the FUSE mount point is known
	// (the Engine is constructed before bazil.org/fuse.Mount runs). A
	// chained VDF's input path re-enters the mount at this root rather
	// than the backing store, since its immediate base is itself a VDF
	// leaf with no real file behind it.
	MountPoint string

	Translator   *vpath.Translator
	Resolver     *vdf.Resolver
	Executor     *vdf.Executor
	Store        *store.Store
	Tracker      *tracker.Tracker
	Introspector introspect.Introspector
	Dispatcher   *plugin.Dispatcher
	Metrics      *metrics.Metrics

	nextFD atomic.Uint64
}

// Options configures the Engine beyond what the config file carries —
// the store path and the set of loaded plugins are deployment concerns,
// not VDF rule configuration.
type Options struct {
	StorePath       string
	Plugins         []plugin.Plugin
	DisableMetrics  bool
	DisableTracking bool // -p/disable-provenance: forces VDF-only mode regardless of introspector availability

	// StoreOptions tunes the Provenance Store's bounded-retry and
	// buffer/drop-with-warning behavior during an outage. The zero value
	// means "use store.DefaultOptions()".
	StoreOptions store.Options
}

// New constructs an Engine rooted at sourceRoot with the given parsed
// configuration. It opens (or creates) the Provenance Store at
// opts.StorePath, loads the host Process Introspector, compiles every VDF
// rule in cfg.Entries, and wires the plugin Dispatcher.
func New(cfg *config.Config, sourceRoot string, opts Options) (*Engine, error) {
	absRoot, err := filepath.Abs(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("engine: resolving source root %q: %w", sourceRoot, err)
	}

	host, err := hostname()
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if !opts.DisableMetrics {
		m = metrics.New()
	}

	storeOpts := opts.StoreOptions
	if storeOpts == (store.Options{}) {
		storeOpts = store.DefaultOptions()
	}
	st, err := store.OpenWithOptions(opts.StorePath, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("engine: opening provenance store: %w", err)
	}
	if m != nil {
		st.WithMetrics(m)
	}

	intro, err := introspect.NewIntrospector()
	if err != nil {
		return nil, fmt.Errorf("engine: initializing process introspector: %w", err)
	}

	resolver, err := vdf.NewResolver(cfg.Entries)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("engine: compiling VDF rules: %w", err)
	}

	translator := vpath.NewTranslator(absRoot).WithSuffix(cfg.Suffix)

	trk := tracker.New(st, intro, host)
	if m != nil {
		trk.WithMetrics(m)
	}
	if opts.DisableTracking {
		trk.Disable()
	}

	exec := vdf.NewExecutor(cfg.StoreSize, func(ctx context.Context, cmd []string, inputPath, leafPath string, pid, callerPID int, start, end float64, execErr error) {
		trk.RecordVDFBuild(ctx, cmd, inputPath, leafPath, pid, callerPID, start, end, 0, execErr != nil)
	})
	if m != nil {
		exec.WithMetrics(m)
	}

	eng := &Engine{
		Config:       cfg,
		SourceRoot:   absRoot,
		Host:         host,
		Translator:   translator,
		Resolver:     resolver,
		Executor:     exec,
		Store:        st,
		Tracker:      trk,
		Introspector: intro,
		Dispatcher:   plugin.NewDispatcher(opts.Plugins...),
		Metrics:      m,
	}

	if !intro.Available() {
		logger.Warn("process introspection unavailable on %s, mount runs in VDF-only/degraded mode", host)
	}

	return eng, nil
}

// SetMountPoint records where this Engine's mount is rooted once the CLI
// has created/resolved the mount point directory, ahead of calling
// bazil.org/fuse.Mount.
func (e *Engine) SetMountPoint(mp string) {
	e.MountPoint = mp
}

// NextFD mints a stable, monotonically increasing descriptor identifier
// used to key the Tracker's open-FD table. bazil.org/fuse hands FUSE
// glue nodes an opaque fuse.HandleID when a Handle is released, but
// Open/Read/Write/Release all see the same *fsnode.FileHandle instance,
// so the engine mints its own FD-like identifier at Open time rather
// than depending on kernel-assigned handle numbers.
func (e *Engine) NextFD() uint64 {
	return e.nextFD.Add(1)
}

// Degraded reports whether this Engine's Tracker is running without
// process introspection ("VDF-only mode": derivations still build and
// cache, but nothing gets attributed to a process).
func (e *Engine) Degraded() bool {
	return !e.Introspector.Available()
}

// Shutdown finalizes every still-open IO Interval as truncated and closes
// the Provenance Store: if a close was never observed before unmount, its
// close_time is set to the unmount time instead.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Tracker.Shutdown(ctx, nowSeconds())
	return e.Store.Close()
}

// ServeMetrics starts the optional debug HTTP listener exposing
// /metrics, if metrics are enabled. Intended to be run in its own
// goroutine by the caller.
func (e *Engine) ServeMetrics(addr string) error {
	if e.Metrics == nil {
		return nil
	}
	return e.Metrics.Serve(addr)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func hostname() (string, error) {
	h, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("engine: resolving hostname: %w", err)
	}
	return h, nil
}
