package hooks

// EventType is the canonical, host-independent hook lifecycle event
type EventType string

// Canonical event types
const (
	SessionStart     EventType = "SessionStart"
	PreToolUse       EventType = "PreToolUse"
	PostToolUse      EventType = "PostToolUse"
	UserPromptSubmit EventType = "UserPromptSubmit"
	SubagentStop     EventType = "SubagentStop"
	Stop             EventType = "Stop"
	SessionEnd       EventType = "SessionEnd"
	Notification     EventType = "Notification"
	PreCompact       EventType = "PreCompact"
	AfterAgent       EventType = "AfterAgent"
	Unknown          EventType = "Unknown"
)

// IsStopKind reports whether the event uses the Stop output shape
// (single user-visible stop reason instead of concatenated context).
func (e EventType) IsStopKind() bool {
	return e == Stop || e == SubagentStop
}

// Host identifies the calling host convention. HostClaude reads the event
// name from the payload's hook_event_name field; HostGemini passes the event
// name as an invocation argument and uses its own event vocabulary.
type Host string

// Supported hosts
const (
	HostClaude Host = "claude"
	HostGemini Host = "gemini"
)

// Context is the canonical normalized representation of one hook invocation.
// It is ephemeral: one per event, never persisted.
type Context struct {
	SessionID      string                 `json:"session_id"`
	Event          EventType              `json:"hook_event_name"`
	ToolName       string                 `json:"tool_name,omitempty"`
	ToolInput      map[string]interface{} `json:"tool_input,omitempty"`
	ToolResponse   map[string]interface{} `json:"tool_response,omitempty"`
	TranscriptPath string                 `json:"transcript_path,omitempty"`
	Cwd            string                 `json:"cwd,omitempty"`
	Prompt         string                 `json:"prompt,omitempty"`
	IsSubagent     bool                   `json:"-"`
	Host           Host                   `json:"-"`

	// Raw preserves the original host payload for hooks that need
	// host-specific fields the canonical form drops.
	Raw map[string]interface{} `json:"-"`
}

// Verdict is the merged permission outcome of an event
type Verdict string

// Verdicts, totally ordered for merge purposes: deny > ask > warn > allow
const (
	VerdictAllow Verdict = "allow"
	VerdictWarn  Verdict = "warn"
	VerdictAsk   Verdict = "ask"
	VerdictDeny  Verdict = "deny"
)

var verdictRank = map[Verdict]int{
	VerdictAllow: 0,
	VerdictWarn:  1,
	VerdictAsk:   2,
	VerdictDeny:  3,
}

// Rank returns the verdict's position in the restrictiveness order.
// Unknown verdicts rank below allow so they never win a merge.
func (v Verdict) Rank() int {
	if r, ok := verdictRank[v]; ok {
		return r
	}
	return -1
}

// Max returns the more restrictive of two verdicts
func (v Verdict) Max(other Verdict) Verdict {
	if other.Rank() > v.Rank() {
		return other
	}
	return v
}

// OutputRecord is the canonical shape any hook's raw output is normalized
// into before merging. The zero value is a no-op contribution.
type OutputRecord struct {
	Verdict        Verdict                `json:"verdict,omitempty"`
	SystemMessage  string                 `json:"system_message,omitempty"`
	Context        string                 `json:"context_injection,omitempty"`
	UpdatedInput   map[string]interface{} `json:"updated_input,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	StopReason     string                 `json:"stop_reason,omitempty"`
	Continue       *bool                  `json:"continue,omitempty"`
	SuppressOutput bool                   `json:"suppress_output,omitempty"`
}

// IsZero reports whether the record contributes nothing to a merge
func (r OutputRecord) IsZero() bool {
	return r.Verdict == "" &&
		r.SystemMessage == "" &&
		r.Context == "" &&
		r.UpdatedInput == nil &&
		r.Metadata == nil &&
		r.StopReason == "" &&
		r.Continue == nil &&
		!r.SuppressOutput
}
