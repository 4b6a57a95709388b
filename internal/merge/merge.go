// Package merge folds the ordered list of per-hook output records produced
// by a dispatch into a single canonical record, applying fixed precedence
// and concatenation rules.
package merge

import (
	"strings"

	"github.com/ihavespoons/warden/internal/hooks"
)

// ContextSeparator joins additional-context contributions from multiple hooks
const ContextSeparator = "\n\n---\n\n"

// Records merges hook output records left to right. Verdicts take the
// maximum under deny > ask > warn > allow; context and system messages are
// concatenated for general events, while Stop-kind events keep only the last
// non-empty value because a single stop reason is user-visible; updatedInput
// is last-writer-wins; metadata maps are shallow-merged. An empty input list
// merges to the zero record, never an error.
func Records(records []hooks.OutputRecord, event hooks.EventType) hooks.OutputRecord {
	var merged hooks.OutputRecord

	var contexts []string
	var messages []string

	for _, rec := range records {
		if rec.IsZero() {
			continue
		}

		merged.Verdict = merged.Verdict.Max(rec.Verdict)

		if rec.Context != "" {
			contexts = append(contexts, rec.Context)
		}
		if rec.SystemMessage != "" {
			messages = append(messages, rec.SystemMessage)
		}
		if rec.StopReason != "" {
			merged.StopReason = rec.StopReason
		}

		if rec.UpdatedInput != nil {
			merged.UpdatedInput = rec.UpdatedInput
		}

		for k, v := range rec.Metadata {
			if merged.Metadata == nil {
				merged.Metadata = map[string]interface{}{}
			}
			merged.Metadata[k] = v
		}

		if rec.Continue != nil {
			if merged.Continue == nil {
				merged.Continue = rec.Continue
			} else {
				and := *merged.Continue && *rec.Continue
				merged.Continue = &and
			}
		}
		if rec.SuppressOutput {
			merged.SuppressOutput = true
		}
	}

	if event.IsStopKind() {
		merged.Context = lastNonEmpty(contexts)
		merged.SystemMessage = lastNonEmpty(messages)
	} else {
		merged.Context = strings.Join(contexts, ContextSeparator)
		merged.SystemMessage = strings.Join(messages, "\n")
	}

	return merged
}

// PermissionDecisions merges permission verdicts with precedence
// deny > ask > warn > allow. Returns false for an empty list.
func PermissionDecisions(verdicts []hooks.Verdict) (hooks.Verdict, bool) {
	if len(verdicts) == 0 {
		return "", false
	}
	best := verdicts[0]
	for _, v := range verdicts[1:] {
		best = best.Max(v)
	}
	return best, true
}

// ExitCodes aggregates hook exit codes; the worst (highest) code wins and an
// empty list aggregates to 0.
func ExitCodes(codes []int) int {
	worst := 0
	for _, c := range codes {
		if c > worst {
			worst = c
		}
	}
	return worst
}

func lastNonEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}
