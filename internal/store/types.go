package store

import (
	"fmt"

	"github.com/repeatfs/repeatfs/internal/hashutil"
)

// File is the persisted form of the File entity. Essential identity is
// (Host, Dev, Inode); Path is display identity only and may change under
// rename without affecting ID.
type File struct {
	ID         string
	Host       string
	Dev        uint64
	Inode      uint64
	Path       string
	Hash       string
	Size       int64
	Mtime      float64
	IsVdf      bool
	UnlinkedAt *float64
	EscapedAt  *float64
}

// FileID derives the stable identity for a File from its essential
// identity tuple, independent of display path.
func FileID(host string, dev, inode uint64) string {
	return hashutil.HashBytes([]byte(fmt.Sprintf("file:%s:%d:%d", host, dev, inode)))
}

// Process is the persisted form of the Process entity.
type Process struct {
	ID          string
	Host        string
	PStart      float64
	PID         int
	ParentPID   int
	ParentStart float64
	Exe         string
	ExeHash     string
	Cmd         []string
	Env         map[string]string
	Cwd         string
	ExitStatus  *int
}

// ProcessID derives the stable identity for a Process from (host,
// start-time, pid).
func ProcessID(host string, pstart float64, pid int) string {
	return hashutil.HashBytes([]byte(fmt.Sprintf("process:%s:%v:%d", host, pstart, pid)))
}

// Direction is the IO Interval direction.
type Direction string

const (
	Read  Direction = "read"
	Write Direction = "write"
)

// IOInterval is the persisted form of the IO Interval entity.
type IOInterval struct {
	ID        string
	ProcessID string
	FileID    string
	Direction Direction
	Seq       int
	OpenTime  float64
	CloseTime *float64
	Bytes     *int64
	Truncated bool
}

// IOIntervalID derives the stable identity for an IO Interval from
// (process, file, direction, open-sequence).
func IOIntervalID(processID, fileID string, dir Direction, seq int) string {
	return hashutil.HashBytes([]byte(fmt.Sprintf("io:%s:%s:%s:%d", processID, fileID, dir, seq)))
}

// ForkEdge is the persisted form of the Fork Edge entity, materialized
// lazily when a child process's identity and its parent's identity are
// both known to the store.
type ForkEdge struct {
	ParentID string
	ChildID  string
}
