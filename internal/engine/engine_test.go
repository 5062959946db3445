package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/repeatfs/repeatfs/internal/config"
)

func newTestEngine(t *testing.T, entries []config.Entry) (*Engine, string) {
	t.Helper()

	src := t.TempDir()
	cfg := config.Default()
	cfg.Entries = entries

	eng, err := New(cfg, src, Options{StorePath: filepath.Join(t.TempDir(), "provenance.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Shutdown(context.Background()) })
	eng.SetMountPoint(t.TempDir())
	return eng, src
}

func TestProvenanceEntryNames(t *testing.T) {
	jsonName, htmlName := ProvenanceEntryNames("a.fastq")
	if jsonName != "a.fastq.provenance.json" {
		t.Errorf("unexpected json name %q", jsonName)
	}
	if htmlName != "a.fastq.provenance.html" {
		t.Errorf("unexpected html name %q", htmlName)
	}
}

func TestAcquireReleaseVDFLeafBuildsOutput(t *testing.T) {
	eng, src := newTestEngine(t, []config.Entry{
		{Match: `\.fastq$`, Ext: ".fasta", Cmd: "cat {input}"},
	})

	input := filepath.Join(src, "a.fastq")
	if err := os.WriteFile(input, []byte("reads\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c, err := eng.Translator.Classify("a.fastq+/a.fastq.fasta")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	slot, err := eng.AcquireVDFLeaf(context.Background(), c, 100)
	if err != nil {
		t.Fatalf("AcquireVDFLeaf: %v", err)
	}
	defer eng.ReleaseVDFLeaf(slot)

	buf := make([]byte, 64)
	n, err := slot.Read(buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "reads\n" {
		t.Errorf("expected derived output %q, got %q", "reads\n", buf[:n])
	}
}

func TestVDFCandidatesListsMatchingRules(t *testing.T) {
	eng, src := newTestEngine(t, []config.Entry{
		{Match: `\.fastq$`, Ext: ".fasta", Cmd: "cat {input}"},
		{Match: `\.txt$`, Ext: ".upper", Cmd: "tr a-z A-Z < {input}"},
	})

	if err := os.WriteFile(filepath.Join(src, "a.fastq"), []byte("x"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c, err := eng.Translator.Classify("a.fastq+")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	cands := eng.VDFCandidates(c)
	if len(cands) != 1 || cands[0].LeafName != "a.fastq.fasta" {
		t.Errorf("expected exactly one matching candidate a.fastq.fasta, got %+v", cands)
	}
}

func TestProvenanceJSONForRealFileWithNoHistory(t *testing.T) {
	eng, src := newTestEngine(t, nil)

	input := filepath.Join(src, "a.txt")
	if err := os.WriteFile(input, []byte("hello\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c, err := eng.Translator.Classify("a.txt+")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	data, err := eng.ProvenanceJSONForBase(context.Background(), c)
	if err != nil {
		t.Fatalf("ProvenanceJSONForBase: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty JSON even with no recorded history")
	}

	html, err := eng.ProvenanceHTMLForBase(context.Background(), c)
	if err != nil {
		t.Fatalf("ProvenanceHTMLForBase: %v", err)
	}
	if len(html) == 0 {
		t.Error("expected non-empty HTML even with no recorded history")
	}
}
