// Package replicate implements the replicator: given an exported
// provenance document for a target File, compute a causal schedule of
// processes, execute them, and verify the replay against the recorded
// original. Grounded on
// original_source/repeatfs/provenance/replication.py, adapted from its
// session/thread-group-leader model (Linux-specific process trees) into
// plain process-dependency scheduling, since the Store's own Export
// already scopes the document to the target's causal closure — this
// package only needs to order and execute what Export handed it.
package replicate

import (
	"fmt"
	"sort"

	"github.com/repeatfs/repeatfs/internal/errs"
	"github.com/repeatfs/repeatfs/internal/store"
)

// processInfo is the scheduling-relevant subset of a Document's process
// record, keyed by document ID.
type processInfo struct {
	id          string
	host        string
	pstart      float64
	pid         int
	parentPID   int
	parentStart float64
}

// Schedule orders doc.Process into an execution sequence satisfying:
// (a) a process runs after every process whose output it reads, (b) a
// process runs after its parent starts, (c) ties broken by original
// pstart then PID.
func Schedule(doc *store.Document) ([]string, error) {
	infos := make(map[string]processInfo, len(doc.Process))
	for id, rec := range doc.Process {
		infos[id] = processInfo{id: id, host: rec.Host, pstart: rec.PStart, pid: rec.PID, parentPID: rec.ParentPID, parentStart: rec.ParentStart}
	}

	// byIdentity resolves a (host, pstart, pid) tuple back to a document
	// ID, needed because parent_pid/parent_start are plain numbers, not
	// document IDs.
	byIdentity := make(map[string]string, len(infos))
	for id, info := range infos {
		byIdentity[identityKey(info.host, info.pstart, info.pid)] = id
	}

	deps := make(map[string]map[string]bool, len(infos))
	for id := range infos {
		deps[id] = make(map[string]bool)
	}

	// (a) write-before-read dependencies.
	writer := writersByFile(doc)
	for _, rec := range doc.Read {
		if writers, ok := writer[rec.FileID]; ok {
			for _, w := range writers {
				if w.ProcessID != rec.ProcessID {
					deps[rec.ProcessID][w.ProcessID] = true
				}
			}
		}
	}

	// (b) parent-before-child dependencies.
	for id, info := range infos {
		if info.parentPID <= 0 {
			continue
		}
		if parentID, ok := byIdentity[identityKey(info.host, info.parentStart, info.parentPID)]; ok && parentID != id {
			deps[id][parentID] = true
		}
	}

	return topoSort(infos, deps)
}

func identityKey(host string, pstart float64, pid int) string {
	return fmt.Sprintf("%s:%v:%d", host, pstart, pid)
}

type writeRef struct {
	ProcessID string
	CloseTime *float64
}

// writersByFile indexes every write IO record by the file it wrote to,
// so read dependencies can be resolved without an O(n^2) scan per read.
func writersByFile(doc *store.Document) map[string][]writeRef {
	out := make(map[string][]writeRef)
	for _, rec := range doc.Write {
		out[rec.FileID] = append(out[rec.FileID], writeRef{ProcessID: rec.ProcessID, CloseTime: rec.CloseTime})
	}
	return out
}

// topoSort performs Kahn's algorithm over the dependency map, breaking
// ties among simultaneously-ready nodes by (pstart, pid). A remaining
// cycle signals corrupted provenance (errs.ScheduleCyclic) — this should
// never occur from real provenance data.
func topoSort(infos map[string]processInfo, deps map[string]map[string]bool) ([]string, error) {
	indegree := make(map[string]int, len(infos))
	dependents := make(map[string][]string, len(infos))
	for id, ds := range deps {
		indegree[id] = len(ds)
		for dep := range ds {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := infos[ready[i]], infos[ready[j]]
			if a.pstart != b.pstart {
				return a.pstart < b.pstart
			}
			return a.pid < b.pid
		})

		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(infos) {
		return nil, errs.New("replicate.schedule", "", errs.ScheduleCyclic, fmt.Errorf("dependency cycle among %d processes, scheduled %d", len(infos), len(order)))
	}

	return order, nil
}
