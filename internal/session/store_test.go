package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ihavespoons/warden/internal/hooks"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestLoadMissingReturnsFresh(t *testing.T) {
	store := newTestStore(t)
	state := store.Load("never-seen")
	if state.SessionID != "never-seen" {
		t.Errorf("SessionID = %q", state.SessionID)
	}
	if state.Gates == nil || len(state.Gates) != 0 {
		t.Errorf("Gates = %v, want empty map", state.Gates)
	}
}

func TestLoadCorruptReturnsFresh(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Dir(), "session-broken.json")
	if err := os.WriteFile(path, []byte("{not json!!"), 0644); err != nil {
		t.Fatal(err)
	}

	state := store.Load("broken")
	if state.SessionID != "broken" || len(state.Gates) != 0 {
		t.Errorf("corrupt state should load fresh, got %+v", state)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().Truncate(time.Second)

	state := store.Load("s1")
	state.Gates["hydration"] = GateRecord{State: "open", LastTransition: now}
	state.SubagentActive = true
	if err := store.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := store.Load("s1")
	if !loaded.SubagentActive {
		t.Error("SubagentActive lost")
	}
	rec, ok := loaded.Gates["hydration"]
	if !ok {
		t.Fatalf("gate record lost: %v", loaded.Gates)
	}
	if rec.State != "open" || !rec.LastTransition.Equal(now) {
		t.Errorf("gate record = %+v", rec)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("Save should stamp UpdatedAt")
	}
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Update("s2", func(s *State) {
		s.Gates["task"] = GateRecord{State: "closed"}
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// second update must preserve the first
	state, err := store.Update("s2", func(s *State) {
		s.Gates["critic"] = GateRecord{State: "open"}
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(state.Gates) != 2 {
		t.Errorf("Gates = %v, want both entries", state.Gates)
	}
}

func TestListOrdersByRecency(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"first", "second", "third"} {
		if err := store.Save(&State{SessionID: id}); err != nil {
			t.Fatal(err)
		}
		// distinct mtimes
		time.Sleep(10 * time.Millisecond)
	}
	// ignore unrelated files
	if err := os.WriteFile(filepath.Join(store.Dir(), "host-claude-1.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("List = %v, want 3 ids", ids)
	}
	if ids[0] != "third" {
		t.Errorf("most recent first, got %v", ids)
	}
}

func TestLookupPersist(t *testing.T) {
	store := newTestStore(t)

	if id := store.Lookup(hooks.HostGemini); id != "" {
		t.Errorf("Lookup before Persist = %q", id)
	}

	store.Persist(hooks.HostGemini, "g-42")
	if id := store.Lookup(hooks.HostGemini); id != "g-42" {
		t.Errorf("Lookup = %q, want g-42", id)
	}

	// other hosts stay independent
	if id := store.Lookup(hooks.HostClaude); id != "" {
		t.Errorf("claude Lookup = %q, want empty", id)
	}
}

func TestLookupEnvOverride(t *testing.T) {
	store := newTestStore(t)
	t.Setenv(EnvSessionID, "forced-id")

	store.Persist(hooks.HostClaude, "file-id")
	if id := store.Lookup(hooks.HostClaude); id != "forced-id" {
		t.Errorf("Lookup = %q, env var must win", id)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	if err := WriteFileAtomic(path, []byte("v1")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("v2")); err != nil {
		t.Fatalf("WriteFileAtomic overwrite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2" {
		t.Errorf("content = %q", data)
	}

	// no temp litter left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory should contain only the target file, got %d entries", len(entries))
	}
}

func TestSanitizePathHostileIDs(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(&State{SessionID: "../../evil/../id"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("hostile id escaped into a subdirectory: %s", e.Name())
		}
	}
}
