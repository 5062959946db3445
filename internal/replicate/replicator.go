package replicate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/repeatfs/repeatfs/internal/errs"
	"github.com/repeatfs/repeatfs/internal/hashutil"
	"github.com/repeatfs/repeatfs/internal/logging"
	"github.com/repeatfs/repeatfs/internal/store"
)

var logger = logging.GetLogger().WithPrefix("replicate")

// Options configure a replication run, mirroring the `replicate` CLI
// subcommand's flags.
type Options struct {
	DestRoot     string   // -r: replication root; recorded cwd is rewritten relative to this
	ListOnly     bool     // -l: list mode, don't execute
	Expand       []string // -e: process IDs forced to run individually even if cached upstream
	Stdout       string   // --stdout: file to redirect pipeline stdout to
	Stderr       string   // --stderr: file to redirect pipeline stderr to
	EnvAllowlist map[string]bool
}

// StepResult records the outcome of executing (or listing) one Chain.
type StepResult struct {
	Chain    Chain
	CmdLine  string
	ExitCode int
	Warnings []string
	Err      error
}

// Report is the full result of a Replicate call.
type Report struct {
	Order  []string
	Chains []Chain
	Steps  []StepResult
}

// Replicate schedules a document's processes, chains piped ones
// together, and (unless ListOnly) executes and verifies the replay.
func Replicate(ctx context.Context, doc *store.Document, opts Options) (*Report, error) {
	order, err := Schedule(doc)
	if err != nil {
		return nil, err
	}

	chains := BuildChains(doc, order)

	expandSet := make(map[string]bool, len(opts.Expand))
	for _, id := range opts.Expand {
		expandSet[id] = true
	}
	chains = splitForExpand(chains, expandSet)

	rep := &Report{Order: order, Chains: chains}

	if opts.ListOnly {
		for _, c := range chains {
			rep.Steps = append(rep.Steps, StepResult{Chain: c, CmdLine: describeChain(doc, c)})
		}
		return rep, nil
	}

	for _, chain := range chains {
		result := executeChain(ctx, doc, chain, opts)
		rep.Steps = append(rep.Steps, result)
		if result.Err != nil {
			return rep, errs.New("replicate.execute", describeChain(doc, chain), errs.ProcessFailed, result.Err)
		}
	}

	return rep, nil
}

// describeChain renders a Chain as a human-readable `[host|start|pid]`
// header plus pipeline command line, for list mode.
func describeChain(doc *store.Document, chain Chain) string {
	var parts []string
	for _, id := range chain {
		rec := doc.Process[id]
		header := fmt.Sprintf("[%s|%v|%d]", rec.Host, rec.PStart, rec.PID)
		parts = append(parts, header+" "+quoteArgs(rec.Cmd))
	}
	return strings.Join(parts, " | ")
}

func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t") {
			quoted[i] = fmt.Sprintf("%q", a)
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}

// executeChain re-executes every process in chain as a single shell
// pipeline, rewrites each process's recorded cwd relative to
// opts.DestRoot, and restores its allow-listed environment.
func executeChain(ctx context.Context, doc *store.Document, chain Chain, opts Options) StepResult {
	cmds := make([]*exec.Cmd, len(chain))
	for i, id := range chain {
		rec := doc.Process[id]
		if len(rec.Cmd) == 0 {
			return StepResult{Chain: chain, Err: fmt.Errorf("process %q has an empty command", id)}
		}

		cmd := exec.CommandContext(ctx, rec.Cmd[0], rec.Cmd[1:]...)
		cmd.Dir = rewriteCwd(rec.Cwd, opts.DestRoot)
		cmd.Env = restoreEnv(rec.Env, opts.EnvAllowlist)
		cmds[i] = cmd
	}

	for i := 0; i < len(cmds)-1; i++ {
		pipe, err := cmds[i].StdoutPipe()
		if err != nil {
			return StepResult{Chain: chain, Err: err}
		}
		cmds[i+1].Stdin = pipe
	}

	if len(cmds) > 0 {
		if opts.Stdout != "" {
			f, err := os.Create(opts.Stdout)
			if err != nil {
				return StepResult{Chain: chain, Err: err}
			}
			defer f.Close()
			cmds[len(cmds)-1].Stdout = f
		} else {
			cmds[len(cmds)-1].Stdout = os.Stdout
		}

		if opts.Stderr != "" {
			f, err := os.Create(opts.Stderr)
			if err != nil {
				return StepResult{Chain: chain, Err: err}
			}
			defer f.Close()
			for _, c := range cmds {
				c.Stderr = f
			}
		} else {
			for _, c := range cmds {
				c.Stderr = os.Stderr
			}
		}
	}

	for _, c := range cmds {
		if err := c.Start(); err != nil {
			return StepResult{Chain: chain, Err: fmt.Errorf("starting %q: %w", c.Path, err)}
		}
	}

	var warnings []string
	for i, c := range cmds {
		if err := c.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return StepResult{Chain: chain, Err: fmt.Errorf("process %q: %w", chain[i], err)}
			}
		}
		warnings = append(warnings, verifyProcess(doc, chain[i], c)...)
	}

	return StepResult{Chain: chain, CmdLine: describeChain(doc, chain), Warnings: warnings}
}

// verifyProcess compares the executable hash and the exit status between
// the recorded original and the just-completed replay. The command line
// is not compared separately: the replay runs the recorded argv as is.
// Mismatches are warnings, not failures.
func verifyProcess(doc *store.Document, id string, cmd *exec.Cmd) []string {
	rec := doc.Process[id]
	var warnings []string

	path, err := exec.LookPath(rec.Cmd[0])
	if err == nil {
		if hash, err := hashutil.HashFile(path); err == nil && rec.Hash != "" && hash != rec.Hash {
			warnings = append(warnings, fmt.Sprintf("process %d: executable hash mismatch (version_mismatch)", rec.PID))
		}
	}

	if cmd.ProcessState != nil && !cmd.ProcessState.Success() {
		warnings = append(warnings, fmt.Sprintf("process %d: exit status %v differs from recorded success", rec.PID, cmd.ProcessState.ExitCode()))
	}

	for _, w := range warnings {
		logger.Warn("%s", w)
	}
	return warnings
}

// rewriteCwd rewrites a recorded absolute cwd relative to destRoot. If
// destRoot is empty, the recorded cwd is used unchanged.
func rewriteCwd(recordedCwd, destRoot string) string {
	if destRoot == "" {
		return recordedCwd
	}
	return filepath.Join(destRoot, filepath.Base(recordedCwd))
}

// restoreEnv rebuilds an environment slice from the recorded
// allow-listed variables, restoring the captured environment only where
// a configured allow-list says it's meaningful to do so. A nil allow-list
// restores every recorded variable.
func restoreEnv(recorded map[string]string, allow map[string]bool) []string {
	var env []string
	for k, v := range recorded {
		if allow == nil || allow[k] {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return env
}
