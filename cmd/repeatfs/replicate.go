package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/repeatfs/repeatfs/internal/errs"
	"github.com/repeatfs/repeatfs/internal/logging"
	"github.com/repeatfs/repeatfs/internal/replicate"
	"github.com/repeatfs/repeatfs/internal/store"
)

var replicateLogger = logging.GetLogger().WithPrefix("cmd.replicate")

type replicateCmd struct {
	DestRoot string   `short:"r" long:"dest" description:"replication root; recorded working directories are rewritten relative to this"`
	ListOnly bool     `short:"l" long:"list-only" description:"print the replication schedule without executing it"`
	Expand   []string `short:"e" long:"expand" description:"process IDs forced to run individually"`
	Stdout   string   `long:"stdout" description:"file to redirect the pipeline's final stdout to"`
	Stderr   string   `long:"stderr" description:"file to redirect every process's stderr to"`

	Args struct {
		Document string `positional-arg-name:"provenance.json" required:"yes" description:"exported provenance document"`
	} `positional-args:"yes"`
}

func (c *replicateCmd) Execute(_ []string) error {
	data, err := os.ReadFile(c.Args.Document)
	if err != nil {
		return fmt.Errorf("replicate: reading %s: %w", c.Args.Document, err)
	}

	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("replicate: parsing %s: %w", c.Args.Document, err)
	}
	replicateLogger.Debug("loaded provenance document %s: %d files, %d processes", c.Args.Document, len(doc.File), len(doc.Process))

	opts := replicate.Options{
		DestRoot: c.DestRoot,
		ListOnly: c.ListOnly,
		Expand:   c.Expand,
		Stdout:   c.Stdout,
		Stderr:   c.Stderr,
	}

	report, err := replicate.Replicate(context.Background(), &doc, opts)
	if report != nil {
		for _, step := range report.Steps {
			if step.CmdLine != "" {
				fmt.Println(step.CmdLine)
			}
			for _, w := range step.Warnings {
				fmt.Fprintln(os.Stderr, "warning:", w)
			}
		}
	}
	if err != nil {
		return err
	}

	total := 0
	for _, step := range report.Steps {
		total += len(step.Warnings)
	}
	if total > 0 {
		return errs.New("replicate.verify", c.Args.Document, errs.VersionMismatch,
			fmt.Errorf("%d verification warning(s)", total))
	}
	return nil
}
