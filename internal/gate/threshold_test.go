package gate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBumpCounterFiresAtThreshold(t *testing.T) {
	dir := t.TempDir()

	for i := 1; i < 5; i++ {
		fired, count, err := bumpCounter(dir, "custodiet", "s1", 5)
		if err != nil {
			t.Fatalf("bump %d: %v", i, err)
		}
		if fired {
			t.Fatalf("bump %d fired before threshold", i)
		}
		if count != i {
			t.Errorf("bump %d: count = %d", i, count)
		}
	}

	fired, count, err := bumpCounter(dir, "custodiet", "s1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Error("fifth bump should fire")
	}
	if count != 0 {
		t.Errorf("count should reset to 0, got %d", count)
	}

	// next cycle starts fresh
	fired, count, err = bumpCounter(dir, "custodiet", "s1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if fired || count != 1 {
		t.Errorf("after reset: fired=%v count=%d", fired, count)
	}
}

func TestCountersIndependentPerSession(t *testing.T) {
	dir := t.TempDir()

	bumpCounter(dir, "custodiet", "a", 5)
	bumpCounter(dir, "custodiet", "a", 5)
	_, count, err := bumpCounter(dir, "custodiet", "b", 5)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("session b count = %d, want 1", count)
	}
}

func TestLoadCounterCorruptStartsFresh(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(counterPath(dir, "custodiet", "s"), []byte("garbage\n"), 0644); err != nil {
		t.Fatal(err)
	}
	c := loadCounter(dir, "custodiet", "s")
	if c.Count != 0 {
		t.Errorf("corrupt counter should load fresh, got %+v", c)
	}
}

func TestWriteAuditBundle(t *testing.T) {
	dir := t.TempDir()

	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(transcript, []byte("line one\nline two\n"), 0644); err != nil {
		t.Fatal(err)
	}

	instruction, err := writeAuditBundle(dir, "s1", "Bash", transcript)
	if err != nil {
		t.Fatalf("writeAuditBundle: %v", err)
	}
	if !strings.Contains(instruction, "compliance re-audit") {
		t.Errorf("instruction = %q", instruction)
	}

	bundles, err := filepath.Glob(filepath.Join(dir, "audit_*.md"))
	if err != nil {
		t.Fatal(err)
	}
	if len(bundles) != 1 {
		t.Fatalf("want exactly one bundle, got %v", bundles)
	}
	if !strings.Contains(instruction, bundles[0]) {
		t.Errorf("instruction should reference the bundle path:\n%s", instruction)
	}

	content, err := os.ReadFile(bundles[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Session: s1", "Triggering tool: Bash", "line two", "COMPLIANCE OK"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("bundle missing %q", want)
		}
	}
}

func TestWriteAuditBundleMissingTranscript(t *testing.T) {
	dir := t.TempDir()
	instruction, err := writeAuditBundle(dir, "s1", "Bash", "/nonexistent/transcript.jsonl")
	if err != nil {
		t.Fatalf("missing transcript must not fail the bundle: %v", err)
	}
	if instruction == "" {
		t.Error("instruction should still be produced")
	}
}

func TestCleanupStaleBundles(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "audit_stale.md")
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	recent := filepath.Join(dir, "audit_recent.md")
	if err := os.WriteFile(recent, []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := writeAuditBundle(dir, "s", "Bash", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale bundle should have been removed")
	}
	if _, err := os.Stat(recent); err != nil {
		t.Error("recent bundle should survive cleanup")
	}
}

func TestTranscriptTailBounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.jsonl")
	var b strings.Builder
	for i := 0; i < 2000; i++ {
		b.WriteString("a fairly long transcript line with some padding text\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}

	tail := transcriptTail(path)
	if len(tail) > transcriptTailBytes {
		t.Errorf("tail length %d exceeds bound %d", len(tail), transcriptTailBytes)
	}
	if tail == "" {
		t.Error("tail should not be empty")
	}
}
