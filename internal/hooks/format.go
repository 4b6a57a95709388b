package hooks

import "encoding/json"

// claudeStopOutput is the distinct Stop-event shape for the Claude host
type claudeStopOutput struct {
	Decision      string `json:"decision"`
	Reason        string `json:"reason,omitempty"`
	StopReason    string `json:"stopReason,omitempty"`
	SystemMessage string `json:"systemMessage,omitempty"`
}

// geminiOutput is the flat decision/reason shape for the Gemini host
type geminiOutput struct {
	Decision      string                 `json:"decision"`
	Reason        string                 `json:"reason,omitempty"`
	SystemMessage string                 `json:"systemMessage,omitempty"`
	UpdatedInput  map[string]interface{} `json:"updatedInput,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Format renders a merged canonical record into the shape the calling host
// expects. Output is always schema-valid JSON, even when every field is
// empty, so the host never receives malformed output.
func Format(rec OutputRecord, event EventType, host Host) []byte {
	switch host {
	case HostGemini:
		return formatGemini(rec)
	default:
		return formatClaude(rec, event)
	}
}

func formatClaude(rec OutputRecord, event EventType) []byte {
	if event.IsStopKind() {
		out := claudeStopOutput{
			Decision:      "approve",
			StopReason:    rec.StopReason,
			SystemMessage: rec.SystemMessage,
		}
		if rec.Verdict == VerdictDeny {
			out.Decision = "block"
			out.Reason = rec.Context
			if out.Reason == "" {
				out.Reason = rec.StopReason
			}
		}
		return mustMarshal(out)
	}

	out := map[string]interface{}{}

	specific := map[string]interface{}{}
	if rec.Context != "" {
		specific["additionalContext"] = rec.Context
	}
	if rec.UpdatedInput != nil {
		specific["updatedInput"] = rec.UpdatedInput
	}
	switch rec.Verdict {
	case VerdictDeny, VerdictAsk, VerdictAllow:
		specific["permissionDecision"] = string(rec.Verdict)
	}
	if len(specific) > 0 {
		specific["hookEventName"] = string(event)
		out["hookSpecificOutput"] = specific
	}

	if rec.SystemMessage != "" {
		out["systemMessage"] = rec.SystemMessage
	}
	if rec.Continue != nil && !*rec.Continue {
		out["continue"] = false
	}
	if rec.SuppressOutput {
		out["suppressOutput"] = true
	}

	return mustMarshal(out)
}

func formatGemini(rec OutputRecord) []byte {
	out := geminiOutput{
		Decision:      "allow",
		Reason:        rec.Context,
		SystemMessage: rec.SystemMessage,
		UpdatedInput:  rec.UpdatedInput,
		Metadata:      rec.Metadata,
	}
	if rec.Verdict == VerdictDeny {
		out.Decision = "deny"
	}
	return mustMarshal(out)
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable with non-serializable metadata values; degrade to
		// an empty object rather than handing the host malformed output.
		return []byte("{}")
	}
	return data
}
