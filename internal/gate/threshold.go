package gate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ihavespoons/warden/internal/logger"
	"github.com/ihavespoons/warden/internal/session"
)

// auditRetention is how long audit bundles are kept before opportunistic
// cleanup on the next firing.
const auditRetention = time.Hour

// transcriptTailBytes bounds how much of the transcript is quoted into the
// audit bundle.
const transcriptTailBytes = 8 * 1024

// Counter is the persisted per-session threshold state for a gate whose
// closure trigger is count-based.
type Counter struct {
	SessionID   string    `json:"session_id"`
	Count       int       `json:"count"`
	LastCheckTS time.Time `json:"last_check_ts"`
}

// counterPath names one JSONL-style state file per gate and session under
// the compliance state directory.
func counterPath(stateDir, gateName, sessionID string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sessionID)
	return filepath.Join(stateDir, fmt.Sprintf("%s-%s.jsonl", gateName, key))
}

// loadCounter reads the last record from the counter file. Missing or
// corrupt files mean "no state yet".
func loadCounter(stateDir, gateName, sessionID string) Counter {
	fresh := Counter{SessionID: sessionID, LastCheckTS: time.Now()}

	data, err := os.ReadFile(counterPath(stateDir, gateName, sessionID))
	if err != nil {
		return fresh
	}

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var c Counter
		if err := json.Unmarshal(line, &c); err != nil {
			logger.Warn().Err(err).Str("gate", gateName).Msg("Corrupt threshold counter, starting fresh")
			return fresh
		}
		c.SessionID = sessionID
		return c
	}
	return fresh
}

// saveCounter persists the counter through the atomic-write primitive so
// concurrent tool calls never observe a partially written file.
func saveCounter(stateDir, gateName string, c Counter) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal threshold counter: %w", err)
	}
	return session.WriteFileAtomic(counterPath(stateDir, gateName, c.SessionID), append(data, '\n'))
}

// bumpCounter increments the counter and reports whether the threshold
// fired. On firing the counter resets to zero and the check timestamp is
// updated.
func bumpCounter(stateDir, gateName, sessionID string, threshold int) (fired bool, count int, err error) {
	c := loadCounter(stateDir, gateName, sessionID)
	c.Count++

	if c.Count >= threshold {
		c.Count = 0
		c.LastCheckTS = time.Now()
		fired = true
	}

	if err := saveCounter(stateDir, gateName, c); err != nil {
		return false, c.Count, err
	}
	return fired, c.Count, nil
}

const auditRules = `Review the session excerpt above and verify:
- work stays within the scope of the bound task and the user's request
- no destructive action was taken without an open critic gate
- errors were surfaced, not papered over
Report the verdict as a single line containing "COMPLIANCE OK" or a list of violations.`

const auditInstruction = "Mandatory compliance re-audit: read %s and follow the " +
	"instructions inside, then report the verdict before continuing."

// writeAuditBundle writes the audit context bundle to a freshly created,
// uniquely named temp file and returns the short instruction referencing it.
// Stale bundles past the retention window are deleted opportunistically.
func writeAuditBundle(stateDir, sessionID, toolName, transcriptPath string) (string, error) {
	cleanupStaleBundles(stateDir)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create compliance state directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Compliance audit\n\nSession: %s\nTriggering tool: %s\nGenerated: %s\n\n",
		sessionID, toolName, time.Now().Format(time.RFC3339))

	if excerpt := transcriptTail(transcriptPath); excerpt != "" {
		b.WriteString("## Recent session excerpt\n\n```\n")
		b.WriteString(excerpt)
		b.WriteString("\n```\n\n")
	} else {
		b.WriteString("## Recent session excerpt\n\n(no transcript available)\n\n")
	}

	b.WriteString("## Audit rules\n\n")
	b.WriteString(auditRules)
	b.WriteString("\n")

	f, err := os.CreateTemp(stateDir, "audit_*.md")
	if err != nil {
		return "", fmt.Errorf("failed to create audit bundle: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write audit bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close audit bundle: %w", err)
	}

	return fmt.Sprintf(auditInstruction, f.Name()), nil
}

func cleanupStaleBundles(stateDir string) {
	matches, err := filepath.Glob(filepath.Join(stateDir, "audit_*.md"))
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-auditRetention)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				logger.Debug().Str("path", path).Msg("Removed stale audit bundle")
			}
		}
	}
}

// transcriptTail returns the last chunk of the transcript file, trimmed to
// whole lines.
func transcriptTail(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > transcriptTailBytes {
		data = data[len(data)-transcriptTailBytes:]
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			data = data[idx+1:]
		}
	}
	return string(bytes.TrimSpace(data))
}
