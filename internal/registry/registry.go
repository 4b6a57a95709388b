// Package registry maps canonical event names to the ordered list of hook
// scripts dispatched for that event. A matcher-specific variant
// ("PostToolUse:TodoWrite") takes precedence over the bare event entry when
// the event's tool name matches; unknown events resolve to an empty list.
package registry

import (
	"github.com/ihavespoons/warden/internal/hooks"
)

// Descriptor names one hook script and whether it may run concurrently with
// the sequential chain.
type Descriptor struct {
	Script string `yaml:"script"`
	Async  bool   `yaml:"async,omitempty"`
}

// Registry holds hook registrations keyed by event name, optionally suffixed
// with a tool matcher.
type Registry struct {
	entries map[string][]Descriptor
}

// New creates a registry from explicit entries
func New(entries map[string][]Descriptor) *Registry {
	if entries == nil {
		entries = map[string][]Descriptor{}
	}
	return &Registry{entries: entries}
}

// Default returns the built-in registration table
func Default() *Registry {
	return New(map[string][]Descriptor{
		string(hooks.SessionStart): {
			{Script: "session_env_setup.sh"},
			{Script: "unified_logger.py", Async: true},
		},
		string(hooks.PreToolUse): {
			{Script: "policy_enforcer.py"},
			{Script: "unified_logger.py", Async: true},
		},
		string(hooks.PostToolUse): {
			{Script: "unified_logger.py", Async: true},
			{Script: "autocommit_state.py"},
		},
		string(hooks.UserPromptSubmit): {
			{Script: "user_prompt_submit.py"},
			{Script: "unified_logger.py", Async: true},
		},
		string(hooks.SubagentStop): {
			{Script: "unified_logger.py"},
		},
		string(hooks.Stop): {
			{Script: "unified_logger.py"},
			{Script: "session_reflect.py"},
		},
		string(hooks.SessionEnd): {
			{Script: "unified_logger.py"},
		},
	})
}

// HooksFor returns the hooks registered for an event. A non-empty matcher
// first tries the "event:matcher" variant; lookup falls back to the bare
// event entry, and unknown events yield an empty list (no-op, not an error).
func (r *Registry) HooksFor(event hooks.EventType, matcher string) []Descriptor {
	if matcher != "" {
		if descs, ok := r.entries[string(event)+":"+matcher]; ok {
			return descs
		}
	}
	return r.entries[string(event)]
}

// Events returns every registered entry key (for config validation)
func (r *Registry) Events() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}
