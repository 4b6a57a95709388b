package gate

import (
	"os"
	"strings"

	"github.com/ihavespoons/warden/internal/hooks"
)

// State of a gate within a session
type State string

// Gate states. There are no other states; transitions are one-directional
// edges evaluated independently per gate.
const (
	Open   State = "open"
	Closed State = "closed"
)

// Mode is a gate's enforcement mode when a required gate is closed
type Mode string

// Enforcement modes
const (
	ModeBlock Mode = "block"
	ModeWarn  Mode = "warn"
)

// Category groups tools by side effect for gate policy
type Category string

// Tool categories
const (
	CategoryReadOnly        Category = "read_only"
	CategoryWrite           Category = "write"
	CategoryMeta            Category = "meta"
	CategoryAlwaysAvailable Category = "always_available"
)

// Opening is the condition under which a closed gate opens: a named tool,
// subagent, or skill was invoked and its output text contains the marker.
type Opening struct {
	// Tools restricts matching to these tool names; empty matches any tool
	Tools []string
	// Marker is the required substring in the tool's output text
	Marker string
}

// Closure is one trigger under which an open gate closes. Exactly one of the
// trigger fields is set per closure.
type Closure struct {
	// OnEvent closes the gate when this event kind is observed
	OnEvent hooks.EventType
	// OnCategory closes the gate when a tool in this category ran
	OnCategory Category
	// RequireDirtyWorktree conjoins OnCategory with a dirty working tree
	RequireDirtyWorktree bool
	// Threshold closes the gate when the per-session counted-tool-call
	// counter reaches this value; the counter then resets to zero
	Threshold int
}

// Def declares one gate: its initial state, default enforcement mode, and
// its transition predicates. Adding a gate is a data change, not control flow.
type Def struct {
	Name        string
	Initial     State
	DefaultMode Mode
	Opening     *Opening
	Closures    []Closure
}

// Mode resolves the gate's enforcement mode, honoring the per-gate
// environment override (e.g. WARDEN_TASK_GATE_MODE=block).
func (d Def) Mode(overrides map[string]string) Mode {
	if v := os.Getenv(d.ModeEnvVar()); v != "" {
		if m := parseMode(v); m != "" {
			return m
		}
	}
	if v, ok := overrides[d.Name]; ok {
		if m := parseMode(v); m != "" {
			return m
		}
	}
	return d.DefaultMode
}

// ModeEnvVar returns the uppercase, gate-derived environment variable name
// that overrides this gate's enforcement mode.
func (d Def) ModeEnvVar() string {
	return "WARDEN_" + strings.ToUpper(d.Name) + "_GATE_MODE"
}

func parseMode(v string) Mode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "block":
		return ModeBlock
	case "warn":
		return ModeWarn
	default:
		return ""
	}
}
