package vdf

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/repeatfs/repeatfs/internal/errs"
	"github.com/repeatfs/repeatfs/internal/logging"
	"github.com/repeatfs/repeatfs/internal/metrics"
)

var cacheLogger = logging.GetLogger().WithPrefix("vdf")

// State is one of a cache slot's states across its build lifecycle.
type State int

const (
	Pending State = iota
	Building
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Building:
		return "Building"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// BuildRecorder is invoked once a derivation process completes so its
// execution can be attributed through the Tracker exactly as if a user
// had run it: pid is the derivation's own process ID (the actual
// subprocess that ran cmd), distinct from callerPID, the process that
// triggered the build by reading the VDF leaf. Implemented by the
// engine wiring layer to avoid an import cycle between vdf and tracker.
type BuildRecorder func(ctx context.Context, cmd []string, inputPath, leafPath string, pid, callerPID int, startTime, endTime float64, exitErr error)

// Slot is the per-cache-key build state machine. readers block on cond
// while the slot is Pending or Building and they have consumed
// everything captured so far. Exported so fsnode can hold a reference
// across a file handle's lifetime without engine needing to spell an
// unexported type.
type Slot struct {
	mu         sync.Mutex
	cond       *sync.Cond
	state      State
	buf        bytes.Buffer
	err        error
	lastAccess float64
	readers    int
}

func newSlot() *Slot {
	s := &Slot{state: Pending}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Executor owns the build cache: one slot per cache key (virtual path +
// rule), a total-bytes counter, and LRU eviction. The LRU bookkeeping
// uses a mutex distinct from any individual slot's lock.
type Executor struct {
	mu            sync.Mutex
	slots         map[string]*Slot
	order         []string // cache keys, most-recently-accessed last
	totalBytes    int64
	highWaterMark int64
	recorder      BuildRecorder
	metrics       *metrics.Metrics
}

// WithMetrics attaches a Metrics collector set that Get/Build record
// cache hit/miss and build duration against. Passing nil (the default)
// disables recording.
func (e *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	e.metrics = m
	return e
}

// NewExecutor constructs an Executor with the given eviction high-water
// mark (total cached bytes across all Ready slots).
func NewExecutor(highWaterMark int64, recorder BuildRecorder) *Executor {
	return &Executor{
		slots:         make(map[string]*Slot),
		highWaterMark: highWaterMark,
		recorder:      recorder,
	}
}

// CacheKey derives a cache key from a VDF leaf's virtual path and the
// rule that produces it.
func CacheKey(virtualLeafPath string, rule Rule) string {
	return virtualLeafPath + "\x00" + rule.Cmd
}

// Get returns the slot for key, creating it in the Pending state if
// absent; the bool reports whether the slot already existed. The caller (fsnode's VDF leaf handler) is responsible for
// calling Build exactly once per Pending slot it observes; every other
// concurrent caller simply waits on the returned slot.
func (e *Executor) Get(key string) (*Slot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.slots[key]
	if ok {
		e.touch(key)
		if e.metrics != nil {
			e.metrics.VDFCacheHits.Inc()
		}
		return s, true
	}

	s = newSlot()
	e.slots[key] = s
	e.order = append(e.order, key)
	if e.metrics != nil {
		e.metrics.VDFCacheMisses.Inc()
	}
	return s, false
}

// Acquire registers the caller as a reader of key's slot, creating it if
// absent and asynchronously starting its build if the slot is still
// Pending (including a slot Get created without a build), and returns
// the slot for the caller to Read from. Pairs with Release, which
// the caller must call exactly once when it's done reading (e.g. on
// handle close), so LRU eviction never frees a slot out from under an
// open reader.
func (e *Executor) Acquire(ctx context.Context, key string, rule Rule, inputPath, leafPath string, matches []string, callerPID int) *Slot {
	s, _ := e.Get(key)

	s.mu.Lock()
	start := s.state == Pending
	if start {
		s.state = Building
	}
	s.readers++
	s.lastAccess = nowSeconds()
	s.mu.Unlock()

	if start {
		go e.Build(ctx, key, s, rule, inputPath, leafPath, matches, callerPID)
	}
	return s
}

// Release unregisters a reader previously added by Acquire and runs an
// eviction sweep, since releasing the last reader of a Ready slot may
// make it evictable.
func (e *Executor) Release(s *Slot) {
	s.mu.Lock()
	if s.readers > 0 {
		s.readers--
	}
	s.mu.Unlock()
	e.evictIfNeeded()
}

// Build spawns the derivation process for key and captures its stdout
// into s's buffer, growing it live so waiters reading mid-build observe
// bytes as they arrive. Exactly one Build call should run per key per
// Ready transition — the caller guarantees this by only calling Build on
// a slot that was still Pending (Get's false "already existed" return).
func (e *Executor) Build(ctx context.Context, key string, s *Slot, rule Rule, inputPath, leafPath string, matches []string, callerPID int) {
	s.mu.Lock()
	s.state = Building
	s.mu.Unlock()

	cmdLine := renderTemplate(rule.Cmd, inputPath, matches)
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdLine)
	for k, v := range rule.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.fail(key, s, err)
		return
	}

	startTime := nowSeconds()
	if err := cmd.Start(); err != nil {
		e.fail(key, s, err)
		return
	}

	buf := make([]byte, 64*1024)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.buf.Write(buf[:n])
			s.cond.Broadcast()
			s.mu.Unlock()
		}
		if readErr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	endTime := nowSeconds()

	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}

	if e.recorder != nil {
		e.recorder(ctx, strings.Fields(cmdLine), inputPath, leafPath, pid, callerPID, startTime, endTime, waitErr)
	}

	if waitErr != nil {
		e.fail(key, s, waitErr)
		return
	}

	s.mu.Lock()
	s.state = Ready
	s.cond.Broadcast()
	s.mu.Unlock()

	e.mu.Lock()
	e.totalBytes += int64(s.buf.Len())
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.VDFBuilds.Inc()
		e.metrics.VDFBuildDuration.Observe(endTime - startTime)
	}

	e.evictIfNeeded()
}

func (e *Executor) fail(key string, s *Slot, err error) {
	cacheLogger.Warn("vdf build failed for key %q: %v", key, err)
	s.mu.Lock()
	s.state = Failed
	s.err = errs.New("vdf.build", key, errs.IoError, err)
	s.cond.Broadcast()
	s.mu.Unlock()

	if e.metrics != nil {
		e.metrics.VDFBuildFailed.Inc()
	}

	// Failed entries are evicted immediately so a subsequent access may
	// retry.
	e.mu.Lock()
	delete(e.slots, key)
	e.mu.Unlock()
}

// Read blocks until at least one byte past off has been captured, the
// build has reached Ready with no bytes past off, or the build Failed,
// then copies the bytes available from off into p (up to len(p)). It
// returns the number of bytes copied; 0 with a nil error means the slot
// is Ready and off is at or past its end.
func (s *Slot) Read(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.state == Failed {
			return 0, s.err
		}
		avail := int64(s.buf.Len())
		if off < avail {
			n := copy(p, s.buf.Bytes()[off:])
			return n, nil
		}
		if s.state == Ready {
			return 0, nil
		}
		s.cond.Wait()
	}
}

// State returns the slot's current state and total bytes captured so far.
func (s *Slot) State() (State, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, int64(s.buf.Len())
}

func (e *Executor) touch(key string) {
	for i, k := range e.order {
		if k == key {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.order = append(e.order, key)
}

// evictIfNeeded drops least-recently-used Ready slots until total bytes
// is at or below the high-water mark. Ready entries with active readers
// are skipped.
func (e *Executor) evictIfNeeded() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; e.totalBytes > e.highWaterMark && i < len(e.order); {
		key := e.order[i]
		s, ok := e.slots[key]
		if !ok {
			e.order = append(e.order[:i], e.order[i+1:]...)
			continue
		}

		s.mu.Lock()
		evictable := s.state == Ready && s.readers == 0
		size := int64(s.buf.Len())
		s.mu.Unlock()

		if !evictable {
			i++
			continue
		}

		e.order = append(e.order[:i], e.order[i+1:]...)
		delete(e.slots, key)
		e.totalBytes -= size
	}
}

var templatePlaceholder = regexp.MustCompile(`\{(input|match\d+)\}`)

// renderTemplate substitutes {input} and numbered {matchN} regex capture
// group placeholders in a rule's command template. {output}/{output_base}
// are not supported since every rule captures stdout rather than writing
// to an output path (see DESIGN.md), so such placeholders are left in
// the command unchanged; a {matchN} with no such capture group
// substitutes to the empty string.
func renderTemplate(tmpl, inputPath string, matches []string) string {
	return templatePlaceholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		if name == "input" {
			return inputPath
		}
		var idx int
		fmt.Sscanf(name, "match%d", &idx)
		if idx >= 0 && idx < len(matches) {
			return matches[idx]
		}
		return ""
	})
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
