package replicate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/repeatfs/repeatfs/internal/errs"
	"github.com/repeatfs/repeatfs/internal/store"
)

// buildCpChainDoc records `echo hello` writing to a.txt, then `cp a.txt
// b.txt` reading a.txt and writing b.txt, and exports the causal closure
// rooted at b.txt — a read-after-write dependency scenario.
func buildCpChainDoc(t *testing.T) *store.Document {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "p.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	a := &store.File{Host: "h1", Dev: 1, Inode: 1, Path: "/a.txt"}
	b := &store.File{Host: "h1", Dev: 1, Inode: 2, Path: "/b.txt"}
	if err := st.UpsertFile(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertFile(ctx, b); err != nil {
		t.Fatal(err)
	}

	writer := &store.Process{Host: "h1", PStart: 1.0, PID: 100, Exe: "/bin/echo", Cmd: []string{"echo", "hello"}}
	copier := &store.Process{Host: "h1", PStart: 2.0, PID: 200, Exe: "/bin/cp", Cmd: []string{"cp", "a.txt", "b.txt"}}
	if err := st.UpsertProcess(ctx, writer); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertProcess(ctx, copier); err != nil {
		t.Fatal(err)
	}

	wID, err := st.OpenInterval(ctx, writer.ID, a.ID, store.Write, 0, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CloseInterval(ctx, wID, 1.5, 6, false); err != nil {
		t.Fatal(err)
	}

	rID, err := st.OpenInterval(ctx, copier.ID, a.ID, store.Read, 0, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CloseInterval(ctx, rID, 2.5, 6, false); err != nil {
		t.Fatal(err)
	}
	wbID, err := st.OpenInterval(ctx, copier.ID, b.ID, store.Write, 0, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CloseInterval(ctx, wbID, 2.5, 6, false); err != nil {
		t.Fatal(err)
	}

	doc, err := st.Export(ctx, b.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	return doc
}

func TestScheduleOrdersWriterBeforeReader(t *testing.T) {
	doc := buildCpChainDoc(t)

	order, err := Schedule(doc)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("expected 2 processes in schedule, got %d: %v", len(order), order)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}

	var writerID, copierID string
	for id, rec := range doc.Process {
		if rec.Cmd[0] == "echo" {
			writerID = id
		} else {
			copierID = id
		}
	}
	if pos[writerID] >= pos[copierID] {
		t.Errorf("expected writer to be scheduled before the reader, got order %v", order)
	}
}

// buildCyclicDoc fabricates a document where process A reads a file
// written by B and B reads a file written by A — a dependency cycle that
// should never arise from real provenance but must be detected rather
// than silently mis-scheduled.
func buildCyclicDoc(t *testing.T) *store.Document {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "p.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	x := &store.File{Host: "h1", Dev: 1, Inode: 1, Path: "/x.txt"}
	y := &store.File{Host: "h1", Dev: 1, Inode: 2, Path: "/y.txt"}
	if err := st.UpsertFile(ctx, x); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertFile(ctx, y); err != nil {
		t.Fatal(err)
	}

	a := &store.Process{Host: "h1", PStart: 1.0, PID: 100, Exe: "/bin/a", Cmd: []string{"a"}}
	b := &store.Process{Host: "h1", PStart: 1.0, PID: 200, Exe: "/bin/b", Cmd: []string{"b"}}
	if err := st.UpsertProcess(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertProcess(ctx, b); err != nil {
		t.Fatal(err)
	}

	// A writes x, B reads x.
	wx, err := st.OpenInterval(ctx, a.ID, x.ID, store.Write, 0, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CloseInterval(ctx, wx, 1.1, 1, false); err != nil {
		t.Fatal(err)
	}
	rx, err := st.OpenInterval(ctx, b.ID, x.ID, store.Read, 0, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CloseInterval(ctx, rx, 1.1, 1, false); err != nil {
		t.Fatal(err)
	}

	// B writes y, A reads y.
	wy, err := st.OpenInterval(ctx, b.ID, y.ID, store.Write, 0, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CloseInterval(ctx, wy, 1.1, 1, false); err != nil {
		t.Fatal(err)
	}
	ry, err := st.OpenInterval(ctx, a.ID, y.ID, store.Read, 0, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CloseInterval(ctx, ry, 1.1, 1, false); err != nil {
		t.Fatal(err)
	}

	doc, err := st.Export(ctx, x.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	return doc
}

func TestScheduleDetectsCycle(t *testing.T) {
	doc := buildCyclicDoc(t)

	_, err := Schedule(doc)
	if err == nil {
		t.Fatal("expected an error for a cyclic dependency graph")
	}
	if !errors.Is(err, errs.Sentinel(errs.ScheduleCyclic)) {
		t.Errorf("expected errs.ScheduleCyclic, got %v", err)
	}
}

func TestScheduleIsDeterministicAcrossRuns(t *testing.T) {
	doc := buildCpChainDoc(t)

	first, err := Schedule(doc)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	second, err := Schedule(doc)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("schedules differ in length: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("schedules diverge at index %d: %v vs %v", i, first, second)
		}
	}
}
