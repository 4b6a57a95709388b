// Package gate maintains named, independently-stateful permission gates per
// session and answers whether a pending tool invocation may proceed. Gate
// behavior is declarative data (initial states, opening predicates, closure
// triggers, tool policy) consumed by one generic evaluator.
package gate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ihavespoons/warden/internal/hooks"
	"github.com/ihavespoons/warden/internal/logger"
	"github.com/ihavespoons/warden/internal/session"
)

// openingHints tell the agent how to open a closed gate
var openingHints = map[string]string{
	"hydration": "spawn the hydrator subagent and report its HYDRATION RESULT",
	"task":      "create or claim a task so the session is bound to one",
	"critic":    "have the critic review the plan (APPROVED)",
	"qa":        "run the qa subagent until it reports QA PASSED",
	"handover":  "write the session handover (HANDOVER WRITTEN)",
	"custodiet": "complete the pending compliance audit (COMPLIANCE OK)",
}

// Engine evaluates gate transitions and tool permissions against persisted
// session state.
type Engine struct {
	defs          []Def
	store         *session.Store
	stateDir      string
	threshold     int
	modeOverrides map[string]string

	// WorktreeDirty is the external condition consulted by conjunction
	// closures. Replaceable in tests.
	WorktreeDirty func(cwd string) bool
}

// Option configures an Engine
type Option func(*Engine)

// WithThreshold overrides the audit threshold for count-based closures
func WithThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// WithModeOverrides sets config-level gate mode overrides (env still wins)
func WithModeOverrides(m map[string]string) Option {
	return func(e *Engine) { e.modeOverrides = m }
}

// WithDefs replaces the standard gate table (tests)
func WithDefs(defs []Def) Option {
	return func(e *Engine) { e.defs = defs }
}

// NewEngine creates a gate engine persisting through the given session store
// and compliance state directory.
func NewEngine(store *session.Store, stateDir string, opts ...Option) *Engine {
	e := &Engine{
		defs:          StandardGates(),
		store:         store,
		stateDir:      stateDir,
		WorktreeDirty: worktreeDirty,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Defs returns the gate declarations in evaluation order
func (e *Engine) Defs() []Def {
	return e.defs
}

// Validate checks table integrity: a gate declared closed must have an
// opening condition, otherwise it is permanently unreachable.
func (e *Engine) Validate() error {
	for _, def := range e.defs {
		if def.Initial == Closed && (def.Opening == nil || def.Opening.Marker == "") {
			return fmt.Errorf("gate %q starts closed but declares no opening condition", def.Name)
		}
	}
	return nil
}

// States returns the current state of every gate for a session, filling in
// declared initial states for gates not yet referenced.
func (e *Engine) States(sessionID string) map[string]session.GateRecord {
	st := e.store.Load(sessionID)
	out := make(map[string]session.GateRecord, len(e.defs))
	for _, def := range e.defs {
		out[def.Name] = e.record(st, def)
	}
	return out
}

// RequiredGates returns the gate names that must be open for a tool
func (e *Engine) RequiredGates(tool string) []string {
	return RequiredGatesFor(tool)
}

// IsSubagentSession reports whether the session currently has a delegated
// subagent active; gate-adjacent enforcement is main-agent-only.
func (e *Engine) IsSubagentSession(sessionID string) bool {
	return e.store.Load(sessionID).SubagentActive
}

// EvaluateToolPermission answers whether a tool is currently permitted. The
// result feeds into the output merge exactly as if it were one more hook.
// Subagent contexts and always-available tools bypass the check.
func (e *Engine) EvaluateToolPermission(ctx hooks.Context) hooks.OutputRecord {
	if ctx.IsSubagent {
		return hooks.OutputRecord{}
	}

	required := RequiredGatesFor(ctx.ToolName)
	if len(required) == 0 {
		return hooks.OutputRecord{}
	}

	st := e.store.Load(ctx.SessionID)

	var verdict hooks.Verdict
	var reasons []string
	for _, name := range required {
		def, ok := e.def(name)
		if !ok {
			continue
		}
		if e.record(st, def).State == string(Open) {
			continue
		}

		reason := fmt.Sprintf("gate `%s` is closed: %s", def.Name, openingHints[def.Name])
		reasons = append(reasons, reason)

		switch def.Mode(e.modeOverrides) {
		case ModeBlock:
			verdict = verdict.Max(hooks.VerdictDeny)
		default:
			verdict = verdict.Max(hooks.VerdictWarn)
		}
	}

	if len(reasons) == 0 {
		return hooks.OutputRecord{}
	}

	logger.Info().
		Str("session_id", ctx.SessionID).
		Str("tool", ctx.ToolName).
		Str("verdict", string(verdict)).
		Strs("reasons", reasons).
		Msg("Gate policy applied")

	rec := hooks.OutputRecord{
		Verdict:       verdict,
		SystemMessage: strings.Join(reasons, "\n"),
	}
	if verdict == hooks.VerdictDeny {
		rec.Context = strings.Join(reasons, "\n")
	}
	return rec
}

// EvaluateStop treats session end as a pseudo-tool requiring the full gate
// set. A closed gate blocks the stop regardless of its per-tool mode.
func (e *Engine) EvaluateStop(ctx hooks.Context) hooks.OutputRecord {
	if ctx.IsSubagent {
		return hooks.OutputRecord{}
	}

	st := e.store.Load(ctx.SessionID)

	var closed []string
	for _, name := range StopGates() {
		def, ok := e.def(name)
		if !ok {
			continue
		}
		if e.record(st, def).State != string(Open) {
			closed = append(closed, name)
		}
	}

	if len(closed) == 0 {
		return hooks.OutputRecord{}
	}

	reasons := make([]string, len(closed))
	for i, name := range closed {
		reasons[i] = fmt.Sprintf("gate `%s` is closed: %s", name, openingHints[name])
	}
	reason := "Session cannot end yet:\n" + strings.Join(reasons, "\n")

	return hooks.OutputRecord{
		Verdict:    hooks.VerdictDeny,
		Context:    reason,
		StopReason: reason,
	}
}

// ObserveEvent applies event-kind transitions: SessionStart creates a fresh
// gate state set, SubagentStop clears the subagent flag, and event-kind
// closure triggers fire.
func (e *Engine) ObserveEvent(ctx hooks.Context) hooks.OutputRecord {
	var messages []string

	_, err := e.store.Update(ctx.SessionID, func(st *session.State) {
		switch ctx.Event {
		case hooks.SessionStart:
			st.Gates = map[string]session.GateRecord{}
			st.SubagentActive = false
			return
		case hooks.SubagentStop:
			st.SubagentActive = false
		}

		for _, def := range e.defs {
			for _, cl := range def.Closures {
				if cl.OnEvent == "" || cl.OnEvent != ctx.Event {
					continue
				}
				if e.record(st, def).State == string(Open) {
					e.close(st, def)
					messages = append(messages, fmt.Sprintf("gate `%s` closed (%s)", def.Name, ctx.Event))
				}
			}
		}
	})
	if err != nil {
		logger.Warn().Err(err).Str("session_id", ctx.SessionID).Msg("Failed to persist gate state")
	}

	return hooks.OutputRecord{SystemMessage: strings.Join(messages, "\n")}
}

// ObserveDelegationStart marks the session as running a delegated subagent
// so nested tool calls bypass main-agent-only enforcement.
func (e *Engine) ObserveDelegationStart(ctx hooks.Context) {
	if ToolCategory(ctx.ToolName) != CategoryMeta || !isDelegationTool(ctx.ToolName) {
		return
	}
	_, err := e.store.Update(ctx.SessionID, func(st *session.State) {
		st.SubagentActive = true
	})
	if err != nil {
		logger.Warn().Err(err).Str("session_id", ctx.SessionID).Msg("Failed to persist subagent flag")
	}
}

// ObservePostToolUse evaluates opening conditions and closure triggers
// against a completed tool call. Gates are mutually independent: each
// predicate is evaluated on its own, in declaration order, with no ordering
// dependency between gates.
//
// The returned error is reserved for audit-bundle infrastructure failures,
// which must surface as a block rather than silently skipping a mandated
// audit.
func (e *Engine) ObservePostToolUse(ctx hooks.Context) (hooks.OutputRecord, error) {
	var rec hooks.OutputRecord
	var messages []string
	var infraErr error

	_, err := e.store.Update(ctx.SessionID, func(st *session.State) {
		if isDelegationTool(ctx.ToolName) {
			st.SubagentActive = false
		}

		outputText := responseText(ctx.ToolResponse)

		for _, def := range e.defs {
			if def.Opening != nil && e.record(st, def).State == string(Closed) {
				if def.Opening.matches(ctx.ToolName, outputText) {
					e.open(st, def)
					messages = append(messages, fmt.Sprintf("gate `%s` opened", def.Name))
				}
			}
		}

		// Closure triggers and audit counting run for subagent work too;
		// only the enforcement checks are main-agent-only.
		cat := ToolCategory(ctx.ToolName)
		for _, def := range e.defs {
			for _, cl := range def.Closures {
				switch {
				case cl.Threshold > 0:
					if !CountsTowardAudit(ctx.ToolName) {
						continue
					}
					// One pending audit at a time: while the gate is closed
					// awaiting its marker, the counter does not advance.
					if e.record(st, def).State == string(Closed) {
						continue
					}
					threshold := cl.Threshold
					if e.threshold > 0 {
						threshold = e.threshold
					}
					fired, _, err := bumpCounter(e.stateDir, def.Name, ctx.SessionID, threshold)
					if err != nil {
						logger.Warn().Err(err).Str("gate", def.Name).Msg("Failed to persist threshold counter")
						continue
					}
					if !fired {
						continue
					}

					e.close(st, def)
					messages = append(messages, fmt.Sprintf("gate `%s` closed (audit threshold reached)", def.Name))

					instruction, berr := writeAuditBundle(e.stateDir, ctx.SessionID, ctx.ToolName, ctx.TranscriptPath)
					if berr != nil {
						infraErr = fmt.Errorf("audit bundle write failed: %w", berr)
						continue
					}
					rec.Context = instruction

				case cl.OnCategory != "":
					if cat != cl.OnCategory {
						continue
					}
					if cl.RequireDirtyWorktree && !e.WorktreeDirty(ctx.Cwd) {
						continue
					}
					if e.record(st, def).State == string(Open) {
						e.close(st, def)
						messages = append(messages, fmt.Sprintf("gate `%s` closed (%s tool ran)", def.Name, cat))
					}
				}
			}
		}
	})
	if err != nil {
		logger.Warn().Err(err).Str("session_id", ctx.SessionID).Msg("Failed to persist gate state")
	}

	rec.SystemMessage = strings.Join(messages, "\n")
	return rec, infraErr
}

func (e *Engine) def(name string) (Def, bool) {
	for _, d := range e.defs {
		if d.Name == name {
			return d, true
		}
	}
	return Def{}, false
}

// record resolves a gate's current state, creating the declared initial
// state on first reference within the session.
func (e *Engine) record(st *session.State, def Def) session.GateRecord {
	if rec, ok := st.Gates[def.Name]; ok {
		return rec
	}
	return session.GateRecord{State: string(def.Initial)}
}

func (e *Engine) open(st *session.State, def Def) {
	st.Gates[def.Name] = session.GateRecord{State: string(Open), LastTransition: time.Now()}
}

func (e *Engine) close(st *session.State, def Def) {
	st.Gates[def.Name] = session.GateRecord{State: string(Closed), LastTransition: time.Now()}
}

func (o *Opening) matches(toolName, outputText string) bool {
	if len(o.Tools) > 0 {
		found := false
		for _, t := range o.Tools {
			if t == toolName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return o.Marker != "" && strings.Contains(outputText, o.Marker)
}

func isDelegationTool(name string) bool {
	for _, t := range delegationTools {
		if t == name {
			return true
		}
	}
	return false
}

// responseText flattens a tool response payload for marker matching
func responseText(response map[string]interface{}) string {
	if response == nil {
		return ""
	}
	data, err := json.Marshal(response)
	if err != nil {
		return ""
	}
	return string(data)
}

// worktreeDirty reports whether the git working tree at cwd has
// uncommitted changes. Errors (not a repo, no git) count as clean.
func worktreeDirty(cwd string) bool {
	if cwd == "" {
		return false
	}
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = cwd
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return false
	}
	return len(bytes.TrimSpace(out.Bytes())) > 0
}
