package hooks

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// rawOutput mirrors the JSON a hook script may print to stdout. Scripts use
// the hierarchical hookSpecificOutput shape; a flat decision/reason pair is
// also accepted for stop-style contributions.
type rawOutput struct {
	Continue           *bool                  `json:"continue,omitempty"`
	StopReason         string                 `json:"stopReason,omitempty"`
	SuppressOutput     bool                   `json:"suppressOutput,omitempty"`
	SystemMessage      string                 `json:"systemMessage,omitempty"`
	Decision           string                 `json:"decision,omitempty"`
	Reason             string                 `json:"reason,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	HookSpecificOutput *rawHookSpecific       `json:"hookSpecificOutput,omitempty"`
}

type rawHookSpecific struct {
	HookEventName      string                 `json:"hookEventName,omitempty"`
	PermissionDecision string                 `json:"permissionDecision,omitempty"`
	AdditionalContext  string                 `json:"additionalContext,omitempty"`
	UpdatedInput       map[string]interface{} `json:"updatedInput,omitempty"`
}

// ParseOutput normalizes a hook's raw stdout into a canonical OutputRecord.
// Empty stdout is a valid no-op contribution; malformed JSON is an error the
// dispatcher records as a hook failure.
func ParseOutput(stdout []byte) (OutputRecord, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return OutputRecord{}, nil
	}

	var raw rawOutput
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return OutputRecord{}, fmt.Errorf("invalid hook output JSON: %w", err)
	}

	rec := OutputRecord{
		SystemMessage:  raw.SystemMessage,
		StopReason:     raw.StopReason,
		Continue:       raw.Continue,
		SuppressOutput: raw.SuppressOutput,
		Metadata:       raw.Metadata,
	}

	if raw.HookSpecificOutput != nil {
		rec.Context = raw.HookSpecificOutput.AdditionalContext
		rec.UpdatedInput = raw.HookSpecificOutput.UpdatedInput
		if raw.HookSpecificOutput.PermissionDecision != "" {
			rec.Verdict = Verdict(raw.HookSpecificOutput.PermissionDecision)
		}
	}

	// Flat decision shape: block/deny deny the event, approve/allow pass.
	switch raw.Decision {
	case "block", "deny":
		rec.Verdict = rec.Verdict.Max(VerdictDeny)
		if rec.Context == "" {
			rec.Context = raw.Reason
		}
	case "approve", "allow":
		rec.Verdict = rec.Verdict.Max(VerdictAllow)
	case "ask":
		rec.Verdict = rec.Verdict.Max(VerdictAsk)
	}
	if raw.Reason != "" && rec.StopReason == "" {
		rec.StopReason = raw.Reason
	}

	return rec, nil
}
