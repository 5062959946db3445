package fsnode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bazil.org/fuse"

	"github.com/repeatfs/repeatfs/internal/config"
	"github.com/repeatfs/repeatfs/internal/engine"
)

func newTestEngine(t *testing.T, sourceDir string) *engine.Engine {
	t.Helper()

	cfg := config.Default()
	cfg.Entries = []config.Entry{
		{Match: `\.fastq$`, Ext: ".fasta", Cmd: "cat {input}"},
	}

	eng, err := engine.New(cfg, sourceDir, engine.Options{
		StorePath: filepath.Join(t.TempDir(), "provenance.db"),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { eng.Shutdown(context.Background()) })
	eng.SetMountPoint(t.TempDir())
	return eng
}

func TestRootLookupAndReadDirAll(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.fastq"), []byte("@r1\nACGT\n+\n!!!!\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.Mkdir(filepath.Join(src, "sub"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	eng := newTestEngine(t, src)
	fs := New(eng)

	root, err := fs.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	dir, ok := root.(*Dir)
	if !ok {
		t.Fatalf("expected *Dir, got %T", root)
	}

	dirents, err := dir.ReadDirAll(context.Background())
	if err != nil {
		t.Fatalf("ReadDirAll: %v", err)
	}

	names := make(map[string]bool)
	for _, d := range dirents {
		names[d.Name] = true
	}
	if !names["a.fastq"] || !names["sub"] {
		t.Errorf("expected a.fastq and sub in listing, got %v", names)
	}
	if names["a.fastq+"] {
		t.Errorf("passthrough fidelity violated: ReadDirAll must never inject a synthetic %q entry", "a.fastq+")
	}

	node, err := dir.Lookup(context.Background(), "a.fastq")
	if err != nil {
		t.Fatalf("Lookup a.fastq: %v", err)
	}
	if _, ok := node.(*File); !ok {
		t.Fatalf("expected *File, got %T", node)
	}
}

func TestLookupVdfDirAndLeaf(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.fastq"), []byte("@r1\nACGT\n+\n!!!!\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	eng := newTestEngine(t, src)
	fs := New(eng)
	root, _ := fs.Root()
	dir := root.(*Dir)

	vdfDirNode, err := dir.Lookup(context.Background(), "a.fastq+")
	if err != nil {
		t.Fatalf("Lookup a.fastq+: %v", err)
	}
	vdfDir, ok := vdfDirNode.(*VdfDir)
	if !ok {
		t.Fatalf("expected *VdfDir, got %T", vdfDirNode)
	}

	entries, err := vdfDir.ReadDirAll(context.Background())
	if err != nil {
		t.Fatalf("ReadDirAll on VdfDir: %v", err)
	}
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["a.fastq.fasta"] {
		t.Errorf("expected derived leaf a.fastq.fasta in VdfDir listing, got %v", names)
	}
	if !names["a.fastq.provenance.json"] || !names["a.fastq.provenance.html"] {
		t.Errorf("expected provenance entries in VdfDir listing, got %v", names)
	}

	leaf, err := vdfDir.Lookup(context.Background(), "a.fastq.fasta")
	if err != nil {
		t.Fatalf("Lookup a.fastq.fasta: %v", err)
	}
	if _, ok := leaf.(*VdfFile); !ok {
		t.Fatalf("expected *VdfFile, got %T", leaf)
	}

	if _, err := vdfDir.Lookup(context.Background(), "not-a-real-rule-product"); err == nil {
		t.Error("expected an unmatched leaf name to fail lookup")
	}
}

func TestCreateWriteReadRelease(t *testing.T) {
	src := t.TempDir()
	eng := newTestEngine(t, src)
	fs := New(eng)
	root, _ := fs.Root()
	dir := root.(*Dir)

	createReq := &fuse.CreateRequest{Name: "new.txt", Flags: fuse.OpenFlags(os.O_RDWR), Mode: 0644}
	var createResp fuse.CreateResponse
	node, handle, err := dir.Create(context.Background(), createReq, &createResp)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := node.(*File); !ok {
		t.Fatalf("expected *File, got %T", node)
	}
	fh, ok := handle.(*FileHandle)
	if !ok {
		t.Fatalf("expected *FileHandle, got %T", handle)
	}

	writeReq := &fuse.WriteRequest{Data: []byte("hello\n"), Offset: 0}
	var writeResp fuse.WriteResponse
	if err := fh.Write(context.Background(), writeReq, &writeResp); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if writeResp.Size != 6 {
		t.Errorf("expected to write 6 bytes, wrote %d", writeResp.Size)
	}

	readReq := &fuse.ReadRequest{Offset: 0, Size: 64}
	var readResp fuse.ReadResponse
	if err := fh.Read(context.Background(), readReq, &readResp); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(readResp.Data) != "hello\n" {
		t.Errorf("expected %q, got %q", "hello\n", readResp.Data)
	}

	if err := fh.Release(context.Background(), &fuse.ReleaseRequest{}); err != nil {
		t.Fatalf("Release: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(src, "new.txt"))
	if err != nil {
		t.Fatalf("reading backing file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("expected backing file contents %q, got %q", "hello\n", data)
	}
}
