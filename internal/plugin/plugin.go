// Package plugin implements a capability-dispatch mechanism: plugins
// declare which FUSE-event hooks they implement, and a Dispatcher calls
// only those hooks, in registration order, with any plugin able to
// short-circuit the remaining chain. No concrete plugin (kafka/dfs/
// snapshot streaming) is implemented here, only the dispatch mechanism
// itself.
package plugin

import (
	"context"

	"github.com/repeatfs/repeatfs/internal/logging"
)

var logger = logging.GetLogger().WithPrefix("plugin")

// Event identifies one of the six FUSE events the Tracker subscribes to,
// plus the two lifecycle events a plugin may also care about.
type Event int

const (
	EventOpen Event = iota
	EventRead
	EventWrite
	EventClose
	EventRename
	EventUnlink
	EventMount
	EventShutdown
)

func (e Event) String() string {
	switch e {
	case EventOpen:
		return "open"
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventClose:
		return "close"
	case EventRename:
		return "rename"
	case EventUnlink:
		return "unlink"
	case EventMount:
		return "mount"
	case EventShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Context carries the data a hook needs about the event that triggered it.
// Fields not relevant to a given Event are left zero.
type Context struct {
	Event       Event
	VirtualPath string
	RealPath    string
	OldPath     string // rename only
	NewPath     string // rename only
	CallerPID   int
	Bytes       int
}

// Plugin is the minimal interface every plugin implements: which events it
// wants delivered, and the handler called for each one it declares.
//
// A Plugin only needs to implement Handle for the events Hooks returns;
// Handle is never called for events the plugin didn't declare.
type Plugin interface {
	// Name identifies the plugin for logging and the `plugins` CLI
	// subcommand.
	Name() string

	// Hooks returns the set of events this plugin wants delivered.
	Hooks() []Event

	// Handle processes one event. Returning Intercept=true stops the
	// dispatcher from calling any later plugin for this event.
	Handle(ctx context.Context, ec Context) (Result, error)
}

// Result is a plugin's response to one dispatched event.
type Result struct {
	// Intercept, when true, short-circuits the dispatch chain: no
	// subsequently-registered plugin sees this event.
	Intercept bool
}

// Dispatcher holds an ordered list of registered plugins and routes each
// event only to the plugins that declared interest in it. The engine is
// threaded through via ctx/ec rather than a plugin holding global state.
type Dispatcher struct {
	plugins []Plugin
	byEvent map[Event][]Plugin
}

// NewDispatcher builds a Dispatcher from a list of plugins, indexing each
// by the events it declared via Hooks.
func NewDispatcher(plugins ...Plugin) *Dispatcher {
	d := &Dispatcher{
		plugins: plugins,
		byEvent: make(map[Event][]Plugin),
	}
	for _, p := range plugins {
		for _, ev := range p.Hooks() {
			d.byEvent[ev] = append(d.byEvent[ev], p)
		}
	}
	return d
}

// Plugins returns the registered plugins in registration order, for the
// `plugins` CLI subcommand's listing.
func (d *Dispatcher) Plugins() []Plugin {
	return d.plugins
}

// Dispatch delivers ec to every plugin registered for ec.Event, in
// registration order, stopping early if one returns Intercept=true. A
// plugin error is logged and treated as non-intercepting so a single
// misbehaving plugin can't break the filesystem's core operation.
func (d *Dispatcher) Dispatch(ctx context.Context, ec Context) {
	for _, p := range d.byEvent[ec.Event] {
		res, err := p.Handle(ctx, ec)
		if err != nil {
			logger.Warn("plugin %q failed handling %v: %v", p.Name(), ec.Event, err)
			continue
		}
		if res.Intercept {
			logger.Debug("plugin %q intercepted %v for %q", p.Name(), ec.Event, ec.VirtualPath)
			return
		}
	}
}
