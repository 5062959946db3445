package store

import (
	"context"
)

// Document is the provenance export format: four maps from string ID to
// entity record, keyed "file", "process", "read", "write". Byte-exact
// stability across versions is a named testable property, so these
// field names must never change once released.
type Document struct {
	File    map[string]*fileRecord    `json:"file"`
	Process map[string]*processRecord `json:"process"`
	Read    map[string]*ioRecord      `json:"read"`
	Write   map[string]*ioRecord      `json:"write"`
}

type fileRecord struct {
	Host  string  `json:"fhost"`
	Dev   uint64  `json:"dev"`
	Inode uint64  `json:"inode"`
	Path  string  `json:"path"`
	Hash  string  `json:"hash"`
	Size  int64   `json:"size"`
	Mtime float64 `json:"mtime"`
	Vdf   bool    `json:"vdf"`
}

// processRecord's field names are fixed on-disk: phost, pstart, pid,
// parent_pid, parent_start, cmd, exe, hash, cwd, env.
type processRecord struct {
	Host        string            `json:"phost"`
	PStart      float64           `json:"pstart"`
	PID         int               `json:"pid"`
	ParentPID   int               `json:"parent_pid"`
	ParentStart float64           `json:"parent_start"`
	Cmd         []string          `json:"cmd"`
	Exe         string            `json:"exe"`
	Hash        string            `json:"hash"`
	Cwd         string            `json:"cwd"`
	Env         map[string]string `json:"env"`
}

type ioRecord struct {
	ProcessID string   `json:"pid"`
	FileID    string   `json:"fid"`
	Seq       int      `json:"seq"`
	OpenTime  float64  `json:"open_time"`
	CloseTime *float64 `json:"close_time"`
	Bytes     *int64   `json:"bytes"`
	Truncated bool     `json:"truncated"`
}

// Export produces the full causal closure of fileID's provenance: every
// IO Interval referencing it, the processes behind those intervals, every
// other file those processes touched, and so on transitively, unbounded
// (depth bounding is a Graph Query presentation concern, not an export
// concern).
func (s *Store) Export(ctx context.Context, fileID string) (*Document, error) {
	doc := &Document{
		File:    make(map[string]*fileRecord),
		Process: make(map[string]*processRecord),
		Read:    make(map[string]*ioRecord),
		Write:   make(map[string]*ioRecord),
	}

	visitedFiles := make(map[string]bool)
	visitedProcs := make(map[string]bool)
	fileQueue := []string{fileID}

	for len(fileQueue) > 0 {
		fid := fileQueue[0]
		fileQueue = fileQueue[1:]
		if visitedFiles[fid] {
			continue
		}
		visitedFiles[fid] = true

		f, err := s.GetFile(ctx, fid)
		if err != nil {
			continue
		}
		doc.File[fid] = &fileRecord{
			Host: f.Host, Dev: f.Dev, Inode: f.Inode, Path: f.Path,
			Hash: f.Hash, Size: f.Size, Mtime: f.Mtime, Vdf: f.IsVdf,
		}

		intervals, err := s.IntervalsForFile(ctx, fid)
		if err != nil {
			continue
		}

		for _, iv := range intervals {
			rec := &ioRecord{
				ProcessID: iv.ProcessID, FileID: iv.FileID, Seq: iv.Seq,
				OpenTime: iv.OpenTime, CloseTime: iv.CloseTime, Bytes: iv.Bytes,
				Truncated: iv.Truncated,
			}
			id := iv.ID
			if iv.Direction == Write {
				doc.Write[id] = rec
			} else {
				doc.Read[id] = rec
			}

			if !visitedProcs[iv.ProcessID] {
				visitedProcs[iv.ProcessID] = true
				if err := s.collectProcess(ctx, doc, iv.ProcessID, &fileQueue, visitedProcs); err != nil {
					continue
				}
			}
		}
	}

	return doc, nil
}

// collectProcess records a process and enqueues every other file it
// touched so the export's closure keeps expanding.
func (s *Store) collectProcess(ctx context.Context, doc *Document, processID string, fileQueue *[]string, visitedProcs map[string]bool) error {
	p, err := s.GetProcess(ctx, processID)
	if err != nil {
		return err
	}
	doc.Process[processID] = &processRecord{
		Host: p.Host, PStart: p.PStart, PID: p.PID, ParentPID: p.ParentPID,
		ParentStart: p.ParentStart, Cmd: p.Cmd, Exe: p.Exe, Hash: p.ExeHash,
		Cwd: p.Cwd, Env: p.Env,
	}

	if p.ParentPID > 0 && p.ParentStart > 0 {
		parentID := ProcessID(p.Host, p.ParentStart, p.ParentPID)
		if !visitedProcs[parentID] {
			visitedProcs[parentID] = true
			s.collectProcess(ctx, doc, parentID, fileQueue, visitedProcs)
		}
	}

	others, err := s.IntervalsForProcess(ctx, processID)
	if err != nil {
		return err
	}
	for _, iv := range others {
		*fileQueue = append(*fileQueue, iv.FileID)
	}
	return nil
}
