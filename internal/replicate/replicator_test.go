package replicate

import (
	"context"
	"testing"
)

func TestReplicateExpandSplitsPipedProcessOutOfChain(t *testing.T) {
	doc := buildPipeDoc(t)

	var producerID string
	for id, rec := range doc.Process {
		if rec.Cmd[0] == "producer" {
			producerID = id
		}
	}
	if producerID == "" {
		t.Fatal("expected to find the producer process in the document")
	}

	report, err := Replicate(context.Background(), doc, Options{ListOnly: true, Expand: []string{producerID}})
	if err != nil {
		t.Fatalf("Replicate: %v", err)
	}

	if len(report.Chains) != 2 {
		t.Fatalf("expected the expanded process to split the merged pipe chain into 2 chains, got %d: %v", len(report.Chains), report.Chains)
	}
	for _, c := range report.Chains {
		if len(c) != 1 {
			t.Errorf("expected only single-process chains once expanded, got %v", c)
		}
	}
}

func TestReplicateWithoutExpandKeepsPipeChainMerged(t *testing.T) {
	doc := buildPipeDoc(t)

	report, err := Replicate(context.Background(), doc, Options{ListOnly: true})
	if err != nil {
		t.Fatalf("Replicate: %v", err)
	}

	if len(report.Chains) != 1 || len(report.Chains[0]) != 2 {
		t.Fatalf("expected the pipe chain to stay merged without expand, got %v", report.Chains)
	}
}

func TestSplitForExpandLeavesUnrelatedChainsAlone(t *testing.T) {
	chains := []Chain{{"a"}, {"b", "c"}}

	out := splitForExpand(chains, map[string]bool{"b": true})
	if len(out) != 3 {
		t.Fatalf("expected the 2-process chain containing the expanded ID to split into 2, got %d chains: %v", len(out), out)
	}
	if len(out[0]) != 1 || out[0][0] != "a" {
		t.Errorf("expected untouched chain %v first, got %v", Chain{"a"}, out[0])
	}

	out = splitForExpand(chains, nil)
	if len(out) != len(chains) {
		t.Errorf("expected an empty expand set to be a no-op, got %v", out)
	}
}
