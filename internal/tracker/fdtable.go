package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/repeatfs/repeatfs/internal/store"
)

const fdShardCount = 16

// openFile is the state the Tracker keeps for one open file descriptor
// between open and close. Bytes is updated on the hot path without a
// store write.
type openFile struct {
	FileID     string
	ProcessID  string
	IntervalID string
	Direction  store.Direction
	RealPath   string
	OpenTime   float64
	Bytes      int64
}

// fdShard owns one partition of the open-FD table. The table is
// partitioned by FD with no cross-FD lock, so two unrelated file
// descriptors never contend on the same mutex unless they happen to land
// in the same shard.
type fdShard struct {
	mu   sync.Mutex
	open map[uint64]*openFile
}

// fdTable is the full open-FD table, sharded across fdShardCount
// partitions keyed by fd % fdShardCount.
type fdTable struct {
	shards [fdShardCount]*fdShard
}

func newFdTable() *fdTable {
	t := &fdTable{}
	for i := range t.shards {
		t.shards[i] = &fdShard{open: make(map[uint64]*openFile)}
	}
	return t
}

func (t *fdTable) shardFor(fd uint64) *fdShard {
	return t.shards[fd%fdShardCount]
}

func (t *fdTable) put(fd uint64, of *openFile) {
	s := t.shardFor(fd)
	s.mu.Lock()
	s.open[fd] = of
	s.mu.Unlock()
}

func (t *fdTable) get(fd uint64) (*openFile, bool) {
	s := t.shardFor(fd)
	s.mu.Lock()
	defer s.mu.Unlock()
	of, ok := s.open[fd]
	return of, ok
}

func (t *fdTable) remove(fd uint64) (*openFile, bool) {
	s := t.shardFor(fd)
	s.mu.Lock()
	defer s.mu.Unlock()
	of, ok := s.open[fd]
	if ok {
		delete(s.open, fd)
	}
	return of, ok
}

// addBytes attributes n more bytes to fd's IO Interval without a store
// round-trip.
func (t *fdTable) addBytes(fd uint64, n int64) {
	s := t.shardFor(fd)
	s.mu.Lock()
	of, ok := s.open[fd]
	s.mu.Unlock()
	if ok {
		atomic.AddInt64(&of.Bytes, n)
	}
}

// drain removes and returns every still-open file across all shards, used
// at unmount to finalize IO Intervals that never saw an explicit close.
func (t *fdTable) drain() []*openFile {
	var out []*openFile
	for _, s := range t.shards {
		s.mu.Lock()
		for fd, of := range s.open {
			out = append(out, of)
			delete(s.open, fd)
		}
		s.mu.Unlock()
	}
	return out
}
