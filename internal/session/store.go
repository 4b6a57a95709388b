// Package session persists small per-session state under a configurable
// directory. All writers go through the same atomic-write primitive (temp
// file + rename) so a reader never observes a partially written file.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ihavespoons/warden/internal/hooks"
	"github.com/ihavespoons/warden/internal/logger"
)

// EnvSessionID overrides session identity lookup for hosts that export it
const EnvSessionID = "WARDEN_SESSION_ID"

// GateRecord is the persisted state of one gate within a session
type GateRecord struct {
	State          string    `json:"state"`
	LastTransition time.Time `json:"last_transition_ts"`
}

// State is the durable per-session record. Fields are coarse flags and
// counters; concurrent writers in the same event accept last-writer-wins.
type State struct {
	SessionID      string                `json:"session_id"`
	Gates          map[string]GateRecord `json:"gates,omitempty"`
	SubagentActive bool                  `json:"subagent_active,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Store reads and writes session state files
type Store struct {
	dir string
}

// NewStore creates a session store rooted at dir, creating it if needed
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the state for a session. A missing file means "no state yet"; a
// corrupt file is treated the same with a logged warning, never a crash.
func (s *Store) Load(sessionID string) *State {
	fresh := &State{
		SessionID: sessionID,
		Gates:     map[string]GateRecord{},
		CreatedAt: time.Now(),
	}

	data, err := os.ReadFile(s.statePath(sessionID))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to read session state")
		}
		return fresh
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("Corrupt session state, starting fresh")
		return fresh
	}
	if state.Gates == nil {
		state.Gates = map[string]GateRecord{}
	}
	state.SessionID = sessionID
	return &state
}

// Save writes session state with atomic replace
func (s *Store) Save(state *State) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	return WriteFileAtomic(s.statePath(state.SessionID), data)
}

// Update applies fn under read-merge-write semantics and persists the result
func (s *Store) Update(sessionID string, fn func(*State)) (*State, error) {
	state := s.Load(sessionID)
	fn(state)
	if err := s.Save(state); err != nil {
		return nil, err
	}
	return state, nil
}

// List returns the session ids with persisted state, most recent first
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	type candidate struct {
		id  string
		mod time.Time
	}
	var found []candidate
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "session-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "session-"), ".json")
		found = append(found, candidate{id: id, mod: info.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })

	ids := make([]string, len(found))
	for i, c := range found {
		ids[i] = c.id
	}
	return ids, nil
}

// Lookup implements hooks.IDResolver. Priority: environment variable, then
// the per-parent-process id file written on SessionStart.
func (s *Store) Lookup(host hooks.Host) string {
	if id := os.Getenv(EnvSessionID); id != "" {
		return id
	}

	data, err := os.ReadFile(s.hostIDPath(host))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Persist implements hooks.IDResolver. Best-effort: a failed write costs id
// continuity for the session, not the event.
func (s *Store) Persist(host hooks.Host, id string) {
	if err := WriteFileAtomic(s.hostIDPath(host), []byte(id+"\n")); err != nil {
		logger.Warn().Err(err).Str("session_id", id).Msg("Failed to persist session id")
	}
}

func (s *Store) statePath(sessionID string) string {
	return filepath.Join(s.dir, "session-"+sanitize(sessionID)+".json")
}

// hostIDPath anchors session identity to the parent process (the host CLI),
// so every hook invocation spawned by the same host resolves the same file.
func (s *Store) hostIDPath(host hooks.Host) string {
	return filepath.Join(s.dir, fmt.Sprintf("host-%s-%d.txt", host, os.Getppid()))
}

// WriteFileAtomic writes data to a uniquely named temp file in the target's
// directory, then renames it over the target.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
