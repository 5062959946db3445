// Package graph implements a reverse breadth-first traversal over IO and
// Fork edges rooted at a target File, reconstructing everything causally
// upstream of it. Grounded on the teacher's general preference for
// small, dependency-free traversal code (none of the pack repos pull in
// a graph library for anything this size) — pure stdlib.
package graph

import (
	"context"
	"sort"

	"github.com/repeatfs/repeatfs/internal/store"
)

// EdgeKind distinguishes the two edge types the Store persists.
type EdgeKind int

const (
	IOEdge EdgeKind = iota
	ForkEdgeKind
)

// Edge is one traversed edge in the result sub-graph. For IOEdge, From is
// the process and To is the file (direction carried separately); for
// ForkEdgeKind, From is the parent process and To is the child.
type Edge struct {
	Kind      EdgeKind
	From      string
	To        string
	Direction store.Direction
	Seq       int
}

// SubGraph is the deduplicated result of a traversal: node sets (by
// entity ID) and the edge multiset that connects them.
type SubGraph struct {
	FileIDs    map[string]bool
	ProcessIDs map[string]bool
	Edges      []Edge
}

func newSubGraph() *SubGraph {
	return &SubGraph{FileIDs: make(map[string]bool), ProcessIDs: make(map[string]bool)}
}

// Query performs a reverse BFS: starting from targetFileID, follow IO
// Intervals back to their processes, then Fork Edges back to parents,
// continuing until depth is exhausted (maxDepth < 0 means unbounded).
// Traversal order at each level is deterministic: edges sorted by
// (process start time, process ID, IO sequence).
func Query(ctx context.Context, st *store.Store, targetFileID string, maxDepth int) (*SubGraph, error) {
	g := newSubGraph()
	g.FileIDs[targetFileID] = true

	type frontierFile struct {
		id    string
		depth int
	}
	fileFrontier := []frontierFile{{targetFileID, 0}}
	visitedProcs := make(map[string]bool)

	for len(fileFrontier) > 0 {
		cur := fileFrontier[0]
		fileFrontier = fileFrontier[1:]

		if maxDepth >= 0 && cur.depth >= maxDepth {
			continue
		}

		intervals, err := st.IntervalsForFile(ctx, cur.id)
		if err != nil {
			return nil, err
		}

		sortedIntervals, err := orderIntervals(ctx, st, intervals)
		if err != nil {
			return nil, err
		}

		for _, iv := range sortedIntervals {
			g.Edges = append(g.Edges, Edge{Kind: IOEdge, From: iv.ProcessID, To: iv.FileID, Direction: iv.Direction, Seq: iv.Seq})
			g.ProcessIDs[iv.ProcessID] = true

			if visitedProcs[iv.ProcessID] {
				continue
			}
			visitedProcs[iv.ProcessID] = true

			parentID, ok, err := st.ForkParent(ctx, iv.ProcessID)
			if err != nil {
				return nil, err
			}
			if ok {
				g.Edges = append(g.Edges, Edge{Kind: ForkEdgeKind, From: parentID, To: iv.ProcessID})
				g.ProcessIDs[parentID] = true
			}

			procIntervals, err := st.IntervalsForProcess(ctx, iv.ProcessID)
			if err != nil {
				return nil, err
			}
			for _, pi := range procIntervals {
				if pi.FileID == cur.id || g.FileIDs[pi.FileID] {
					continue
				}
				g.FileIDs[pi.FileID] = true
				fileFrontier = append(fileFrontier, frontierFile{pi.FileID, cur.depth + 1})
			}
		}
	}

	return g, nil
}

// orderIntervals sorts by (process start time, process ID, IO sequence),
// the deterministic traversal order Query requires.
func orderIntervals(ctx context.Context, st *store.Store, intervals []*store.IOInterval) ([]*store.IOInterval, error) {
	pstart := make(map[string]float64, len(intervals))
	for _, iv := range intervals {
		if _, ok := pstart[iv.ProcessID]; ok {
			continue
		}
		p, err := st.GetProcess(ctx, iv.ProcessID)
		if err != nil {
			return nil, err
		}
		pstart[iv.ProcessID] = p.PStart
	}

	sorted := make([]*store.IOInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if pstart[sorted[i].ProcessID] != pstart[sorted[j].ProcessID] {
			return pstart[sorted[i].ProcessID] < pstart[sorted[j].ProcessID]
		}
		if sorted[i].ProcessID != sorted[j].ProcessID {
			return sorted[i].ProcessID < sorted[j].ProcessID
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	return sorted, nil
}
