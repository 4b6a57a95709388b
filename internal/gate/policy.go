package gate

import "github.com/ihavespoons/warden/internal/hooks"

// Markers recognized in subagent/skill output when evaluating opening
// conditions.
const (
	MarkerHydration  = "HYDRATION RESULT"
	MarkerTaskBound  = "task:"
	MarkerApproved   = "APPROVED"
	MarkerQAPassed   = "QA PASSED"
	MarkerHandover   = "HANDOVER WRITTEN"
	MarkerCompliance = "COMPLIANCE OK"
)

// DefaultAuditThreshold is how many counted tool calls pass between
// mandatory compliance re-audits.
const DefaultAuditThreshold = 5

// delegationTools are the tools that spawn subagents or skills; their
// PostToolUse output carries the markers that open gates.
var delegationTools = []string{"Task", "Skill", "delegate_to_agent", "activate_skill"}

// taskBindingTools are task-manager invocations whose output can bind a task
// to the session.
var taskBindingTools = []string{
	"mcp__task_manager__create_task",
	"mcp__task_manager__claim_next_task",
	"mcp__task_manager__update_task",
}

// StandardGates returns the declarative table of the six standard gates.
func StandardGates() []Def {
	return []Def{
		{
			// Context hydration must complete before any other work; a new
			// prompt invalidates it.
			Name:        "hydration",
			Initial:     Closed,
			DefaultMode: ModeBlock,
			Opening:     &Opening{Tools: delegationTools, Marker: MarkerHydration},
			Closures:    []Closure{{OnEvent: hooks.UserPromptSubmit}},
		},
		{
			// A task must be bound to the session before write operations.
			// Once bound it stays bound for the rest of the session.
			Name:        "task",
			Initial:     Closed,
			DefaultMode: ModeWarn,
			Opening:     &Opening{Tools: taskBindingTools, Marker: MarkerTaskBound},
		},
		{
			// Plan review before destructive actions; new intent = new plan.
			Name:        "critic",
			Initial:     Closed,
			DefaultMode: ModeWarn,
			Opening:     &Opening{Tools: delegationTools, Marker: MarkerApproved},
			Closures:    []Closure{{OnEvent: hooks.UserPromptSubmit}},
		},
		{
			// QA verification; any further write invalidates the last pass.
			Name:        "qa",
			Initial:     Closed,
			DefaultMode: ModeWarn,
			Opening:     &Opening{Tools: delegationTools, Marker: MarkerQAPassed},
			Closures:    []Closure{{OnCategory: CategoryWrite}},
		},
		{
			// Session handover notes; stale once writes land on a dirty tree.
			Name:        "handover",
			Initial:     Closed,
			DefaultMode: ModeWarn,
			Opening:     &Opening{Tools: delegationTools, Marker: MarkerHandover},
			Closures:    []Closure{{OnCategory: CategoryWrite, RequireDirtyWorktree: true}},
		},
		{
			// Periodic compliance re-audit every N counted tool calls.
			Name:        "custodiet",
			Initial:     Open,
			DefaultMode: ModeWarn,
			Opening:     &Opening{Tools: delegationTools, Marker: MarkerCompliance},
			Closures:    []Closure{{Threshold: DefaultAuditThreshold}},
		},
	}
}

// toolCategories is the static tool taxonomy. Both host vocabularies are
// listed so categorization survives normalization of either host's events.
var toolCategories = map[Category][]string{
	CategoryReadOnly: {
		"Read", "Glob", "Grep", "WebFetch", "WebSearch", "TaskOutput",
		"read_file", "list_dir", "find_by_name", "grep_search",
		"search_web", "read_url_content",
		"mcp__task_manager__get_task",
		"mcp__task_manager__list_tasks",
		"mcp__task_manager__search_tasks",
	},
	CategoryWrite: {
		"Edit", "Write", "Bash", "NotebookEdit", "MultiEdit",
		"write_file", "replace", "run_shell_command", "execute_code",
		"mcp__task_manager__delete_task",
		"mcp__task_manager__complete_task",
	},
	CategoryMeta: {
		"Task", "Skill", "TodoWrite", "AskUserQuestion",
		"EnterPlanMode", "ExitPlanMode", "KillShell",
		"delegate_to_agent", "activate_skill",
	},
	// Tools needed to establish the very state the gates depend on.
	CategoryAlwaysAvailable: {
		"mcp__task_manager__create_task",
		"mcp__task_manager__claim_next_task",
	},
}

// categoryLookup is built once from toolCategories. Always-available entries
// win over any other category listing.
var categoryLookup = func() map[string]Category {
	m := map[string]Category{}
	for _, cat := range []Category{CategoryReadOnly, CategoryWrite, CategoryMeta, CategoryAlwaysAvailable} {
		for _, tool := range toolCategories[cat] {
			m[tool] = cat
		}
	}
	return m
}()

// ToolCategory returns the category for a tool. Unknown tools are treated as
// write (conservative).
func ToolCategory(tool string) Category {
	if cat, ok := categoryLookup[tool]; ok {
		return cat
	}
	return CategoryWrite
}

// requiredGates maps tool categories to the gates that must be open before a
// tool in that category is allowed without intervention.
var requiredGates = map[Category][]string{
	CategoryReadOnly: {"hydration"},
	CategoryMeta:     {"hydration"},
	CategoryWrite:    {"hydration", "task", "critic"},
}

// stopGates is the full gate set a Stop pseudo-tool requires
var stopGates = []string{"hydration", "task", "critic", "qa", "handover", "custodiet"}

// RequiredGatesFor returns the gates that must be open for a tool. The
// always-available category bypasses all gates unconditionally.
func RequiredGatesFor(tool string) []string {
	cat := ToolCategory(tool)
	if cat == CategoryAlwaysAvailable {
		return nil
	}
	return requiredGates[cat]
}

// StopGates returns the gate set required before the session may end
func StopGates() []string {
	return stopGates
}

// countSkipTools never increment the threshold counter, so pure inspection
// work does not force a re-audit.
var countSkipTools = map[string]bool{
	"Read":                          true,
	"Glob":                          true,
	"Grep":                          true,
	"TaskOutput":                    true,
	"read_file":                     true,
	"list_dir":                      true,
	"grep_search":                   true,
	"mcp__memory__retrieve_memory":  true,
	"mcp__task_manager__get_task":   true,
	"mcp__task_manager__list_tasks": true,
}

// CountsTowardAudit reports whether a tool call increments the audit counter
func CountsTowardAudit(tool string) bool {
	return tool != "" && !countSkipTools[tool]
}
