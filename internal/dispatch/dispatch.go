// Package dispatch runs registered hook scripts as subprocesses: hooks
// flagged async are started immediately, the rest run strictly in
// registration order, and async results are collected before the merge.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ihavespoons/warden/internal/hooks"
	"github.com/ihavespoons/warden/internal/logger"
	"github.com/ihavespoons/warden/internal/registry"
)

// DefaultTimeout bounds each hook subprocess call
const DefaultTimeout = 30 * time.Second

// Result is the outcome of one hook subprocess
type Result struct {
	Script   string
	Record   hooks.OutputRecord
	ExitCode int
	Failed   bool
}

// Runner dispatches hook scripts from a hook directory
type Runner struct {
	HookDir string
	Timeout time.Duration
}

// NewRunner creates a runner with the default per-hook timeout
func NewRunner(hookDir string) *Runner {
	return &Runner{HookDir: hookDir, Timeout: DefaultTimeout}
}

// Dispatch runs every registered hook with the context JSON on stdin and
// returns the collected results: sequential hooks first in registration
// order, then async hooks in registration order. A deny from a sequential
// hook short-circuits the rest of the sequential chain; async hooks already
// started are still collected so no subprocess outlives the invocation.
func (r *Runner) Dispatch(ctx context.Context, descs []registry.Descriptor, input []byte) []Result {
	var async []registry.Descriptor
	var sync []registry.Descriptor
	for _, d := range descs {
		if d.Async {
			async = append(async, d)
		} else {
			sync = append(sync, d)
		}
	}

	// Start async hooks first; they run while the sequential chain executes.
	asyncResults := make([]Result, len(async))
	g := new(errgroup.Group)
	for i, d := range async {
		i, d := i, d
		g.Go(func() error {
			asyncResults[i] = r.runOne(ctx, d.Script, input)
			return nil
		})
	}

	var results []Result
	for _, d := range sync {
		res := r.runOne(ctx, d.Script, input)
		results = append(results, res)
		if res.Record.Verdict == hooks.VerdictDeny {
			logger.Debug().
				Str("script", d.Script).
				Msg("Hook denied, short-circuiting sequential chain")
			break
		}
	}

	_ = g.Wait()
	results = append(results, asyncResults...)
	return results
}

// Records extracts the output records and exit codes from dispatch results.
// Failed hooks contribute an exit code but no record.
func Records(results []Result) ([]hooks.OutputRecord, []int) {
	records := make([]hooks.OutputRecord, 0, len(results))
	codes := make([]int, 0, len(results))
	for _, res := range results {
		codes = append(codes, res.ExitCode)
		if !res.Failed {
			records = append(records, res.Record)
		}
	}
	return records, codes
}

func (r *Runner) runOne(parent context.Context, script string, input []byte) Result {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	path := filepath.Join(r.HookDir, script)
	argv := interpreterFor(path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Dir = r.HookDir

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// Hook stderr passes through for operator visibility, never parsed.
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	result := Result{Script: script}

	if ctx.Err() == context.DeadlineExceeded {
		logger.Warn().Str("script", script).Dur("timeout", timeout).Msg("Hook timed out")
		return Result{Script: script, ExitCode: 1, Failed: true}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
		}
		logger.Error().
			Err(err).
			Str("script", script).
			Int("exit_code", result.ExitCode).
			Msg("Hook failed")
		result.Failed = true
		return result
	}

	record, perr := hooks.ParseOutput(stdout.Bytes())
	if perr != nil {
		logger.Error().Err(perr).Str("script", script).Msg("Hook produced unparsable output")
		result.ExitCode = 1
		result.Failed = true
		return result
	}

	result.Record = record
	return result
}

// interpreterFor picks how to exec a hook script by extension
func interpreterFor(path string) []string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sh":
		return []string{"bash", path}
	case ".py":
		return []string{"python3", path}
	default:
		return []string{path}
	}
}
