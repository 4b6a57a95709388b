// Package engine wires the router pipeline together: normalize the raw host
// event, dispatch registered hooks, merge their outputs, consult the gate
// engine, and render the decision back into the calling host's schema.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ihavespoons/warden/internal/config"
	"github.com/ihavespoons/warden/internal/dispatch"
	"github.com/ihavespoons/warden/internal/gate"
	"github.com/ihavespoons/warden/internal/hooks"
	"github.com/ihavespoons/warden/internal/logger"
	"github.com/ihavespoons/warden/internal/merge"
	"github.com/ihavespoons/warden/internal/registry"
	"github.com/ihavespoons/warden/internal/session"
	"github.com/ihavespoons/warden/internal/trace"
)

// Exit codes emitted to the host
const (
	ExitOK    = 0
	ExitWarn  = 1
	ExitBlock = 2
)

// Result is the outcome of routing one host event
type Result struct {
	Output   []byte
	ExitCode int
}

// Router routes one raw host event through the full pipeline. It is built
// once per invocation; all state lives in the session store.
type Router struct {
	cfg        *config.Config
	normalizer *hooks.Normalizer
	registry   *registry.Registry
	runner     *dispatch.Runner
	gates      *gate.Engine
	store      *session.Store
	trace      *trace.Store
}

// NewRouter constructs a router from resolved configuration
func NewRouter(cfg *config.Config) (*Router, error) {
	store, err := session.NewStore(cfg.ResolveSessionDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	runner := dispatch.NewRunner(cfg.ResolveHookDir())
	if cfg.Settings.TimeoutSeconds > 0 {
		runner.Timeout = time.Duration(cfg.Settings.TimeoutSeconds) * time.Second
	}

	gates := gate.NewEngine(store, cfg.ResolveStateDir(),
		gate.WithThreshold(cfg.Gates.AuditThreshold),
		gate.WithModeOverrides(cfg.Gates.Modes),
	)

	r := &Router{
		cfg:        cfg,
		normalizer: &hooks.Normalizer{IDs: store},
		registry:   cfg.BuildRegistry(),
		runner:     runner,
		gates:      gates,
		store:      store,
	}

	if cfg.Settings.Trace.Enabled {
		ts, err := trace.NewStore(cfg.Settings.Trace.StoragePath)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to open trace store, continuing without tracing")
		} else {
			r.trace = ts
		}
	}

	return r, nil
}

// Close releases router resources
func (r *Router) Close() {
	if r.trace != nil {
		_ = r.trace.Close()
	}
}

// Gates exposes the gate engine for inspection commands
func (r *Router) Gates() *gate.Engine {
	return r.gates
}

// Sessions exposes the session store for inspection commands
func (r *Router) Sessions() *session.Store {
	return r.store
}

// Trace exposes the trace store, which may be nil when tracing is disabled
func (r *Router) Trace() *trace.Store {
	return r.trace
}

// Route normalizes the payload, dispatches registered hooks, merges their
// outputs with the gate engine's contribution, and renders the host shape.
// A non-empty hostEvent selects the Gemini calling convention.
func (r *Router) Route(ctx context.Context, payload []byte, hostEvent string) (Result, error) {
	hctx := r.normalizer.Normalize(payload, hostEvent)

	logger.Debug().
		Str("event", string(hctx.Event)).
		Str("session_id", hctx.SessionID).
		Str("tool", hctx.ToolName).
		Str("host", string(hctx.Host)).
		Msg("Routing event")

	// Gate-adjacent enforcement is main-agent-only.
	if !hctx.IsSubagent && r.gates.IsSubagentSession(hctx.SessionID) {
		hctx.IsSubagent = true
	}

	// Event-kind transitions run before dispatch so hooks observe the
	// post-transition state on disk.
	gateRecords := []hooks.OutputRecord{r.gates.ObserveEvent(hctx)}

	matcher := ""
	if hctx.Event == hooks.PostToolUse {
		matcher = hctx.ToolName
	}
	descs := r.registry.HooksFor(hctx.Event, matcher)

	input, err := hookInput(hctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to encode hook input, dispatching raw payload")
		input = payload
	}

	results := r.runner.Dispatch(ctx, descs, input)
	records, codes := dispatch.Records(results)

	// The gate engine feeds the merge exactly as if it were one more hook.
	switch hctx.Event {
	case hooks.PreToolUse:
		gateRecords = append(gateRecords, r.gates.EvaluateToolPermission(hctx))
		r.gates.ObserveDelegationStart(hctx)
	case hooks.PostToolUse:
		rec, infraErr := r.gates.ObservePostToolUse(hctx)
		if infraErr != nil {
			return r.infrastructureFailure(hctx, infraErr), infraErr
		}
		gateRecords = append(gateRecords, rec)
	case hooks.Stop:
		gateRecords = append(gateRecords, r.gates.EvaluateStop(hctx))
	}

	merged := merge.Records(append(records, gateRecords...), hctx.Event)

	exitCode := merge.ExitCodes(codes)
	if merged.Verdict == hooks.VerdictDeny {
		exitCode = ExitBlock
	} else if merged.Verdict == hooks.VerdictWarn && exitCode < ExitWarn {
		exitCode = ExitWarn
	}

	r.recordTrace(hctx, merged, exitCode)

	return Result{
		Output:   hooks.Format(merged, hctx.Event, hctx.Host),
		ExitCode: exitCode,
	}, nil
}

// infrastructureFailure renders the explicit block shape for audit-bundle
// write failures. Silently skipping a mandated audit is worse than stopping.
func (r *Router) infrastructureFailure(hctx hooks.Context, err error) Result {
	logger.Error().Err(err).Str("session_id", hctx.SessionID).Msg("Infrastructure failure")

	reason := fmt.Sprintf("warden infrastructure error: %v. Fix before continuing.", err)
	rec := hooks.OutputRecord{
		Verdict:    hooks.VerdictDeny,
		Context:    reason,
		StopReason: reason,
	}
	r.recordTrace(hctx, rec, ExitBlock)

	return Result{
		Output:   hooks.Format(rec, hctx.Event, hctx.Host),
		ExitCode: ExitBlock,
	}
}

func (r *Router) recordTrace(hctx hooks.Context, merged hooks.OutputRecord, exitCode int) {
	if r.trace == nil {
		return
	}
	verdict := merged.Verdict
	if verdict == "" {
		verdict = hooks.VerdictAllow
	}
	err := r.trace.RecordDecision(&trace.Decision{
		SessionID: hctx.SessionID,
		Event:     string(hctx.Event),
		Tool:      hctx.ToolName,
		Verdict:   string(verdict),
		ExitCode:  exitCode,
	}, hctx.Cwd)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to record decision trace")
	}
}

// hookInput builds the JSON each hook receives on stdin: the original host
// payload with the canonical fields merged over it, so hooks can rely on
// hook_event_name and session_id being present while host-specific fields
// are preserved.
func hookInput(hctx hooks.Context) ([]byte, error) {
	merged := make(map[string]interface{}, len(hctx.Raw)+4)
	for k, v := range hctx.Raw {
		merged[k] = v
	}
	merged["hook_event_name"] = string(hctx.Event)
	merged["session_id"] = hctx.SessionID
	if hctx.ToolName != "" {
		merged["tool_name"] = hctx.ToolName
	}
	if hctx.Cwd != "" {
		merged["cwd"] = hctx.Cwd
	}
	if hctx.TranscriptPath != "" {
		merged["transcript_path"] = hctx.TranscriptPath
	}
	return json.Marshal(merged)
}
