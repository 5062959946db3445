package replicate

import (
	"sort"

	"github.com/repeatfs/repeatfs/internal/store"
)

// Chain is a sequence of process document IDs connected end-to-end by
// anonymous pipes: process i's stdout/stderr is process i+1's stdin.
// Single-process chains are the common case.
type Chain []string

// BuildChains groups a schedule into pipe chains, per
// original_source/repeatfs/provenance/replication.py's
// _build_chain: anonymous pipe file descriptors don't survive a replay
// on a different host, so piped processes must be re-chained into one
// shell pipeline (`cmd1 | cmd2 | ...`) rather than executed independently
// with manually-wired redirection.
func BuildChains(doc *store.Document, order []string) []Chain {
	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}

	pipeWriter := make(map[string]string) // pipe file ID -> writer process ID
	pipeReader := make(map[string]string) // pipe file ID -> reader process ID
	for _, rec := range doc.Write {
		if isPipeFile(doc, rec.FileID) {
			pipeWriter[rec.FileID] = rec.ProcessID
		}
	}
	for _, rec := range doc.Read {
		if isPipeFile(doc, rec.FileID) {
			pipeReader[rec.FileID] = rec.ProcessID
		}
	}

	readsOf := make(map[string][]string) // process ID -> pipe file IDs it reads
	writesOf := make(map[string][]string)
	for fid, pid := range pipeReader {
		readsOf[pid] = append(readsOf[pid], fid)
	}
	for fid, pid := range pipeWriter {
		writesOf[pid] = append(writesOf[pid], fid)
	}

	visited := make(map[string]bool, len(order))
	var chains []Chain

	for _, id := range order {
		if visited[id] {
			continue
		}

		left := id
		for {
			pipes := readsOf[left]
			if len(pipes) == 0 {
				break
			}
			writer, ok := pipeWriter[pipes[0]]
			if !ok || writer == left {
				break
			}
			left = writer
		}

		chain := Chain{left}
		visited[left] = true
		current := left
		for {
			pipes := writesOf[current]
			if len(pipes) == 0 {
				break
			}
			reader, ok := pipeReader[pipes[0]]
			if !ok || reader == current || visited[reader] {
				break
			}
			chain = append(chain, reader)
			visited[reader] = true
			current = reader
		}

		chains = append(chains, chain)
	}

	sort.Slice(chains, func(i, j int) bool {
		return position[chains[i][0]] < position[chains[j][0]]
	})

	return chains
}

// splitForExpand implements expand mode: any chain containing a process
// ID named in expand is broken into one chain per
// process, so that process is "split out individually in listings and
// re-executed" on its own rather than folded into its pipe chain's single
// merged pipeline. Order is preserved; chains with no expanded member pass
// through unchanged.
func splitForExpand(chains []Chain, expand map[string]bool) []Chain {
	if len(expand) == 0 {
		return chains
	}

	out := make([]Chain, 0, len(chains))
	for _, chain := range chains {
		expandThis := false
		for _, id := range chain {
			if expand[id] {
				expandThis = true
				break
			}
		}
		if !expandThis {
			out = append(out, chain)
			continue
		}
		for _, id := range chain {
			out = append(out, Chain{id})
		}
	}
	return out
}

func isPipeFile(doc *store.Document, fileID string) bool {
	rec, ok := doc.File[fileID]
	if !ok {
		return false
	}
	return len(rec.Path) >= 5 && rec.Path[:5] == "pipe:"
}
