package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ihavespoons/warden/internal/hooks"
	"github.com/ihavespoons/warden/internal/registry"
)

// writeScript creates an executable hook script in the runner's hook dir.
func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/bash\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchCollectsRecords(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ctx.sh", `echo '{"hookSpecificOutput":{"additionalContext":"from ctx"}}'`)
	writeScript(t, dir, "silent.sh", `exit 0`)

	r := NewRunner(dir)
	results := r.Dispatch(context.Background(), []registry.Descriptor{
		{Script: "ctx.sh"},
		{Script: "silent.sh"},
	}, []byte(`{}`))

	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	records, codes := Records(results)
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].Context != "from ctx" {
		t.Errorf("Context = %q", records[0].Context)
	}
	if !records[1].IsZero() {
		t.Errorf("empty stdout should yield a zero record: %+v", records[1])
	}
	for _, c := range codes {
		if c != 0 {
			t.Errorf("exit codes = %v", codes)
		}
	}
}

func TestDispatchStdinCarriesInput(t *testing.T) {
	dir := t.TempDir()
	// echo the tool name read from stdin back as context
	writeScript(t, dir, "echo.sh",
		`tool=$(python3 -c "import sys,json; print(json.load(sys.stdin)['tool_name'])")
echo "{\"hookSpecificOutput\":{\"additionalContext\":\"saw $tool\"}}"`)

	r := NewRunner(dir)
	results := r.Dispatch(context.Background(), []registry.Descriptor{{Script: "echo.sh"}},
		[]byte(`{"tool_name":"Bash"}`))

	if len(results) != 1 || results[0].Failed {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Record.Context != "saw Bash" {
		t.Errorf("Context = %q", results[0].Record.Context)
	}
}

func TestDispatchDenyShortCircuitsSequentialChain(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "second-ran")
	writeScript(t, dir, "deny.sh", `echo '{"decision":"block","reason":"no"}'`)
	writeScript(t, dir, "second.sh", `touch `+marker)

	r := NewRunner(dir)
	results := r.Dispatch(context.Background(), []registry.Descriptor{
		{Script: "deny.sh"},
		{Script: "second.sh"},
	}, []byte(`{}`))

	if len(results) != 1 {
		t.Fatalf("deny should short-circuit, got %d results", len(results))
	}
	if results[0].Record.Verdict != hooks.VerdictDeny {
		t.Errorf("Verdict = %q", results[0].Record.Verdict)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("second sequential hook must not run after a deny")
	}
}

func TestDispatchAsyncAlwaysCollected(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "deny.sh", `echo '{"decision":"block","reason":"no"}'`)
	writeScript(t, dir, "logger.sh", `echo '{"systemMessage":"logged"}'`)

	r := NewRunner(dir)
	results := r.Dispatch(context.Background(), []registry.Descriptor{
		{Script: "logger.sh", Async: true},
		{Script: "deny.sh"},
	}, []byte(`{}`))

	// deny short-circuits the sequential chain, but the async hook's result
	// is still collected after it
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Record.Verdict != hooks.VerdictDeny {
		t.Errorf("sequential result first: %+v", results[0])
	}
	if results[1].Record.SystemMessage != "logged" {
		t.Errorf("async result = %+v", results[1])
	}
}

func TestDispatchNonZeroExitIsFailure(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "fail.sh", `echo '{"systemMessage":"ignored"}'; exit 3`)

	r := NewRunner(dir)
	results := r.Dispatch(context.Background(), []registry.Descriptor{{Script: "fail.sh"}}, nil)

	if len(results) != 1 {
		t.Fatal("want one result")
	}
	res := results[0]
	if !res.Failed || res.ExitCode != 3 {
		t.Errorf("result = %+v, want Failed with exit code 3", res)
	}

	records, codes := Records(results)
	if len(records) != 0 {
		t.Errorf("failed hook must not contribute a record: %v", records)
	}
	if len(codes) != 1 || codes[0] != 3 {
		t.Errorf("codes = %v", codes)
	}
}

func TestDispatchUnparsableOutputIsFailure(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "garbage.sh", `echo 'not json at all'`)

	r := NewRunner(dir)
	results := r.Dispatch(context.Background(), []registry.Descriptor{{Script: "garbage.sh"}}, nil)

	if !results[0].Failed || results[0].ExitCode != 1 {
		t.Errorf("result = %+v", results[0])
	}
}

func TestDispatchTimeout(t *testing.T) {
	dir := t.TempDir()
	// exec so the timeout kill reaches the sleeping process itself and the
	// stdout pipe closes promptly
	writeScript(t, dir, "slow.sh", `exec sleep 5`)

	r := NewRunner(dir)
	r.Timeout = 100 * time.Millisecond

	start := time.Now()
	results := r.Dispatch(context.Background(), []registry.Descriptor{{Script: "slow.sh"}}, nil)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout did not bound the call: %v", elapsed)
	}
	if !results[0].Failed || results[0].ExitCode != 1 {
		t.Errorf("timed-out hook should fail with exit code 1: %+v", results[0])
	}
}

func TestDispatchDirectExecutable(t *testing.T) {
	dir := t.TempDir()
	// no extension: the script is exec'd directly via its shebang
	writeScript(t, dir, "hook", `echo '{"systemMessage":"direct"}'`)

	r := NewRunner(dir)
	results := r.Dispatch(context.Background(), []registry.Descriptor{{Script: "hook"}}, nil)

	if len(results) != 1 || results[0].Failed {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Record.SystemMessage != "direct" {
		t.Errorf("SystemMessage = %q", results[0].Record.SystemMessage)
	}
}

func TestDispatchMissingScriptIsFailure(t *testing.T) {
	r := NewRunner(t.TempDir())
	results := r.Dispatch(context.Background(), []registry.Descriptor{{Script: "missing.sh"}}, nil)
	if !results[0].Failed {
		t.Errorf("missing script should fail: %+v", results[0])
	}
}

func TestInterpreterFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/hooks/x.sh", "bash"},
		{"/hooks/x.py", "python3"},
		{"/hooks/x.SH", "bash"},
		{"/hooks/binary", "/hooks/binary"},
	}
	for _, tt := range tests {
		argv := interpreterFor(tt.path)
		if argv[0] != tt.want {
			t.Errorf("interpreterFor(%q)[0] = %q, want %q", tt.path, argv[0], tt.want)
		}
	}
}
