package hooks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ihavespoons/warden/internal/logger"
)

// geminiEvents translates the Gemini CLI event vocabulary into canonical
// event types. SessionEnd maps to Stop so stop-gate enforcement also fires
// for that host. Events with no canonical equivalent map to Unknown.
var geminiEvents = map[string]EventType{
	"SessionStart": SessionStart,
	"BeforeTool":   PreToolUse,
	"AfterTool":    PostToolUse,
	"BeforeAgent":  UserPromptSubmit,
	"AfterAgent":   AfterAgent,
	"SessionEnd":   Stop,
}

// IDResolver resolves session identity for hosts that do not repeat the
// session id on every event. Implementations persist ids so later events in
// the same process tree correlate to the same session.
type IDResolver interface {
	// Lookup returns a previously persisted session id, or ""
	Lookup(host Host) string
	// Persist stores the session id for later Lookup calls. Best-effort.
	Persist(host Host, id string)
}

// Normalizer converts host-specific raw event payloads into canonical
// Contexts. Normalization never fails: absent or malformed fields degrade to
// safe defaults so downstream dispatch still runs.
type Normalizer struct {
	IDs IDResolver
}

// Normalize converts a raw payload into a Context. A non-empty hostEvent
// argument selects the Gemini calling convention (event name passed as an
// invocation argument); otherwise the event name is read from the payload's
// hook_event_name field.
func (n *Normalizer) Normalize(payload []byte, hostEvent string) Context {
	raw := map[string]interface{}{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &raw); err != nil {
			logger.Warn().Err(err).Msg("Malformed event payload, using defaults")
			raw = map[string]interface{}{}
		}
	}

	ctx := Context{
		Host: HostClaude,
		Raw:  raw,
	}

	if hostEvent != "" {
		ctx.Host = HostGemini
		if ev, ok := geminiEvents[hostEvent]; ok {
			ctx.Event = ev
		} else {
			ctx.Event = Unknown
		}
	} else {
		ctx.Event = EventType(stringField(raw, "hook_event_name"))
		if !isCanonical(ctx.Event) {
			ctx.Event = Unknown
		}
	}

	ctx.ToolName = stringField(raw, "tool_name")
	ctx.ToolInput = mapField(raw, "tool_input")
	ctx.ToolResponse = mapField(raw, "tool_response")
	ctx.TranscriptPath = stringField(raw, "transcript_path")
	ctx.Cwd = stringField(raw, "cwd")
	ctx.Prompt = stringField(raw, "prompt")
	ctx.IsSubagent = ctx.Event == SubagentStop

	ctx.SessionID = n.resolveSessionID(&ctx, raw)

	return ctx
}

// resolveSessionID guarantees the session id invariant: never empty once
// normalization returns. Priority: payload field, persisted id, synthesized.
func (n *Normalizer) resolveSessionID(ctx *Context, raw map[string]interface{}) string {
	id := stringField(raw, "session_id")

	if id == "" && n.IDs != nil {
		id = n.IDs.Lookup(ctx.Host)
	}

	if id == "" {
		id = synthesizeSessionID(ctx.Host)
		logger.Debug().
			Str("session_id", id).
			Str("event", string(ctx.Event)).
			Msg("Synthesized session id")
	}

	// Persist on SessionStart so hosts that never repeat the id can still be
	// correlated on later events.
	if ctx.Event == SessionStart && n.IDs != nil {
		n.IDs.Persist(ctx.Host, id)
	}

	return id
}

func synthesizeSessionID(host Host) string {
	short := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%s-%s", host, time.Now().Format("20060102-150405"), short)
}

func isCanonical(e EventType) bool {
	switch e {
	case SessionStart, PreToolUse, PostToolUse, UserPromptSubmit,
		SubagentStop, Stop, SessionEnd, Notification, PreCompact, AfterAgent:
		return true
	default:
		return false
	}
}

func stringField(raw map[string]interface{}, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func mapField(raw map[string]interface{}, key string) map[string]interface{} {
	if v, ok := raw[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}
