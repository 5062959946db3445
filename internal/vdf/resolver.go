// Package vdf implements the VDF resolver and the VDF executor/cache.
// The Resolver is stateless pattern matching against a loaded rule
// table; the Executor owns the build cache's state machine.
package vdf

import (
	"fmt"
	"regexp"

	"github.com/repeatfs/repeatfs/internal/config"
	"github.com/repeatfs/repeatfs/internal/errs"
)

// Rule is a compiled VDF rule: candidate filenames matching Match produce
// a leaf named base+Ext, materialized by running Cmd.
type Rule struct {
	Match *regexp.Regexp
	Ext   string
	Cmd   string
	Env   map[string]string
}

// Resolver enumerates VDF rules matching a base filename. It holds no
// per-request state; only the compiled rule table, loaded once at mount
// time from configuration — pure and stateless except for that table.
type Resolver struct {
	rules []Rule
}

// NewResolver compiles every configuration entry's Match regular
// expression once, so Resolve never pays compilation cost per call.
func NewResolver(entries []config.Entry) (*Resolver, error) {
	rules := make([]Rule, 0, len(entries))
	for _, e := range entries {
		re, err := regexp.Compile(e.Match)
		if err != nil {
			return nil, fmt.Errorf("vdf: compiling rule match %q: %w", e.Match, err)
		}
		rules = append(rules, Rule{Match: re, Ext: e.Ext, Cmd: e.Cmd, Env: e.Env})
	}
	return &Resolver{rules: rules}, nil
}

// Candidate is one VDF leaf the Resolver can produce for a given base.
type Candidate struct {
	LeafName string
	Rule     Rule
}

// Matches returns every rule whose Match matches baseName, each paired
// with the leaf name it would produce inside baseName's "+" directory.
func (r *Resolver) Matches(baseName string) []Candidate {
	var out []Candidate
	for _, rule := range r.rules {
		if rule.Match.MatchString(baseName) {
			out = append(out, Candidate{LeafName: baseName + rule.Ext, Rule: rule})
		}
	}
	return out
}

// Resolve finds the rule that would produce leafName from baseName, or
// errs.NotFound if no rule matches.
func (r *Resolver) Resolve(baseName, leafName string) (Rule, error) {
	for _, c := range r.Matches(baseName) {
		if c.LeafName == leafName {
			return c.Rule, nil
		}
	}
	return Rule{}, errs.New("vdf.resolve", leafName, errs.NotFound, fmt.Errorf("no VDF rule produces %q from %q", leafName, baseName))
}
