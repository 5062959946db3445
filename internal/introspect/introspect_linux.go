//go:build linux

package introspect

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// linuxIntrospector reads /proc to build Process snapshots. Field offsets
// and the pstart computation (boot time + ticks/Hz) are grounded on
// original_source/repeatfs/provenance/process_record.py's get_stat_info
// and _update.
type linuxIntrospector struct {
	hostname  string
	clockTick float64
	bootTime  float64
	hashes    *execHashCache

	mu    sync.Mutex
	cache map[int]*Process
}

// NewIntrospector returns the real Linux Introspector, reading host boot
// time and clock tick rate once at construction.
func NewIntrospector() (Introspector, error) {
	boot, err := readBootTime()
	if err != nil {
		return nil, fmt.Errorf("introspect: reading boot time: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &linuxIntrospector{
		hostname:  hostname,
		clockTick: clockTicksPerSecond(),
		bootTime:  boot,
		hashes:    newExecHashCache(),
		cache:     make(map[int]*Process),
	}, nil
}

func (in *linuxIntrospector) Available() bool { return true }

func (in *linuxIntrospector) Snapshot(pid int) (*Process, error) {
	stat, err := in.readStat(pid)
	if err != nil {
		in.mu.Lock()
		cached, ok := in.cache[pid]
		in.mu.Unlock()
		if ok {
			return cached, nil
		}
		return nil, fmt.Errorf("introspect: pid %d: %w", pid, err)
	}

	p := &Process{
		Host:       in.hostname,
		PID:        pid,
		StartTime:  stat.pstart,
		ParentPID:  stat.parentPID,
		Cmd:        in.readCmdline(pid),
		Env:        in.readEnviron(pid),
		Cwd:        readlinkSafe(fmt.Sprintf("/proc/%d/cwd", pid)),
		ObservedAt: nowSeconds(),
	}

	if stat.parentPID > 0 {
		if pstat, err := in.readStat(stat.parentPID); err == nil {
			p.ParentStartTime = pstat.pstart
		}
	}

	exe := readlinkSafe(fmt.Sprintf("/proc/%d/exe", pid))
	p.Exe = exe
	if exe != "" {
		if fi, statErr := os.Stat(exe); statErr == nil {
			key := fmt.Sprintf("%s:%d:%d", exe, fi.Size(), fi.ModTime().UnixNano())
			if h, hashErr := in.hashes.hash(exe, key); hashErr == nil {
				p.ExeHash = h
			} else {
				logger.Debug("exe hash failed for pid %d (%s): %v", pid, exe, hashErr)
			}
		}
	}

	in.mu.Lock()
	in.cache[pid] = p
	in.mu.Unlock()

	return p, nil
}

type procStat struct {
	pstart    float64
	parentPID int
	sessionID int
}

// readStat parses /proc/<pid>/stat. Field indices skip past the process
// name, which may itself contain spaces and parentheses, by scanning for
// the closing paren exactly as the Python implementation does.
func (in *linuxIntrospector) readStat(pid int) (*procStat, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, err
	}

	fields := strings.Split(strings.TrimRight(string(data), "\n"), " ")

	fieldMod := 0
	for i := 0; i < len(fields)-1; i++ {
		if strings.HasSuffix(fields[1+i], ")") {
			fieldMod = i
			break
		}
	}

	parentPID, err := strconv.Atoi(fields[3+fieldMod])
	if err != nil {
		return nil, fmt.Errorf("parsing parent pid: %w", err)
	}
	sessionID, err := strconv.Atoi(fields[5+fieldMod])
	if err != nil {
		return nil, fmt.Errorf("parsing session id: %w", err)
	}
	starttimeTicks, err := strconv.ParseFloat(fields[21+fieldMod], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing starttime: %w", err)
	}

	return &procStat{
		pstart:    in.bootTime + starttimeTicks/in.clockTick,
		parentPID: parentPID,
		sessionID: sessionID,
	}, nil
}

func (in *linuxIntrospector) readCmdline(pid int) []string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || len(data) == 0 {
		return nil
	}
	trimmed := strings.TrimRight(string(data), "\x00")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\x00")
}

// readEnviron reads /proc/<pid>/environ and keeps only the allow-listed
// names (AllowedEnvVars), never the full environment.
func (in *linuxIntrospector) readEnviron(pid int) map[string]string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/environ", pid))
	if err != nil {
		return nil
	}

	env := make(map[string]string)
	for _, entry := range strings.Split(strings.TrimRight(string(data), "\x00"), "\x00") {
		if entry == "" {
			continue
		}
		key, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		if AllowedEnvVars[key] {
			env[key] = value
		}
	}
	if len(env) == 0 {
		return nil
	}
	return env
}

func readlinkSafe(path string) string {
	target, err := os.Readlink(path)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(target, " (deleted)")
}

func readBootTime() (float64, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "btime ") {
			fields := strings.Fields(line)
			return strconv.ParseFloat(fields[1], 64)
		}
	}
	return 0, fmt.Errorf("introspect: btime not found in /proc/stat")
}

// clockTicksPerSecond returns the kernel's USER_HZ. The value is fixed at
// 100 on every Linux architecture this package targets; sysconf(_SC_CLK_TCK)
// would require cgo, so this avoids that dependency.
func clockTicksPerSecond() float64 {
	return 100.0
}
