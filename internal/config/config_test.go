package config

import (
	"strings"
	"testing"
)

const sampleConfig = `# comment line
plugins=kafka,dfs

block_size=2048

[entry]
match=\.fastq$
ext=.fasta
cmd=seqtk seq -A {input}

[entry]
match=\.fasta$
ext=.count
cmd=wc -l {input}

kafka.brokers=localhost:9092
`

func TestParseGlobalsAndEntries(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Plugins) != 2 || cfg.Plugins[0] != "kafka" || cfg.Plugins[1] != "dfs" {
		t.Errorf("unexpected plugins: %v", cfg.Plugins)
	}

	if cfg.BlockSize != 2048 {
		t.Errorf("expected block_size 2048, got %d", cfg.BlockSize)
	}

	if len(cfg.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(cfg.Entries))
	}

	if cfg.Entries[0].Match != `\.fastq$` || cfg.Entries[0].Ext != ".fasta" {
		t.Errorf("unexpected first entry: %+v", cfg.Entries[0])
	}

	if len(cfg.PluginSettings) != 1 || cfg.PluginSettings[0].Plugin != "kafka" || cfg.PluginSettings[0].Field != "brokers" {
		t.Errorf("unexpected plugin settings: %+v", cfg.PluginSettings)
	}
}

func TestParseRejectsUnknownKey(t *testing.T) {
	_, err := Parse(strings.NewReader("bogus=1\n"))
	if err == nil {
		t.Fatal("expected an error for unknown key")
	}
}

func TestParseRejectsIncompleteEntry(t *testing.T) {
	_, err := Parse(strings.NewReader("[entry]\nmatch=foo\n"))
	if err == nil {
		t.Fatal("expected an error for incomplete entry")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Suffix != "+" {
		t.Errorf("expected default suffix +, got %q", cfg.Suffix)
	}
	if cfg.BlockSize != 1048576 {
		t.Errorf("expected default block size 1048576, got %d", cfg.BlockSize)
	}
}
