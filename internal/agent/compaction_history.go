package agent

import (
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// CompactHistoryConfig controls the soft-ceiling compaction applied to a
// thread's message history before it is handed to the provider: once
// history grows past SoftCeilingTokens, the oldest contiguous run of
// messages (short of the preserved tail) collapses into one summary
// message.
type CompactHistoryConfig struct {
	// SoftCeilingTokens is the approximate token budget (chars/4) above
	// which compaction runs. Default: 100000.
	SoftCeilingTokens int
	// TailPreserveTurns is the number of trailing user turns (and
	// everything after the oldest of them) never folded into a summary.
	// Default: 4.
	TailPreserveTurns int
}

// DefaultCompactHistoryConfig matches the defaults recorded for the
// soft-ceiling/tail-preserve behavior.
func DefaultCompactHistoryConfig() CompactHistoryConfig {
	return CompactHistoryConfig{SoftCeilingTokens: 100000, TailPreserveTurns: 4}
}

// CompactHistory folds the oldest foldable run of history into a single
// summary message once the estimated token count exceeds the soft
// ceiling. It never rewrites the preserved tail, and it never folds
// across a task_list message boundary — a task_list message is the
// thread's entire current TODO state, not a turn to be summarized, so
// everything at or after the most recent one ahead of the tail survives
// untouched even if that leaves the result over budget.
func CompactHistory(history []*models.Message, cfg CompactHistoryConfig) []*models.Message {
	if cfg.SoftCeilingTokens <= 0 {
		cfg = DefaultCompactHistoryConfig()
	}
	if len(history) == 0 || estimateTokens(history) <= cfg.SoftCeilingTokens {
		return history
	}

	tailStart := tailBoundary(history, cfg.TailPreserveTurns)
	foldEnd := tailStart
	for i := 0; i < tailStart; i++ {
		if history[i].Type == models.MessageTypeTaskList {
			foldEnd = i
			break
		}
	}
	if foldEnd <= 0 {
		return history
	}

	summary := synthesizeSummary(history[:foldEnd])
	out := make([]*models.Message, 0, len(history)-foldEnd+1)
	out = append(out, summary)
	out = append(out, history[foldEnd:]...)
	return out
}

// tailBoundary returns the index of the oldest message that must be
// preserved: the start of the turns-th most recent user message. If
// fewer than turns user messages exist, the whole history is preserved
// (index 0).
func tailBoundary(history []*models.Message, turns int) int {
	if turns <= 0 {
		return len(history)
	}
	seen := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			seen++
			if seen >= turns {
				return i
			}
		}
	}
	return 0
}

// estimateTokens approximates token count as chars/4 across content,
// tool call input, and tool result content — the same rough heuristic
// used wherever this codebase needs a budget check without a real
// tokenizer call.
func estimateTokens(history []*models.Message) int {
	chars := 0
	for _, m := range history {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Input)
		}
		for _, tr := range m.ToolResults {
			chars += len(tr.Content)
		}
	}
	return chars / 4
}

// synthesizeSummary builds a deterministic digest of a folded message
// run: turn counts and the time span covered. It does not call the LLM
// — the loop has no synchronous access to a provider at this point in
// initialization, so the summary is a structural digest rather than a
// narrative one; a richer narrative summary can be produced later by a
// dedicated summarization tool call without changing this fold point.
func synthesizeSummary(folded []*models.Message) *models.Message {
	var userTurns, assistantTurns, toolCalls int
	var start, end time.Time
	for i, m := range folded {
		if i == 0 {
			start = m.CreatedAt
		}
		end = m.CreatedAt
		switch m.Role {
		case models.RoleUser:
			userTurns++
		case models.RoleAssistant:
			assistantTurns++
		}
		toolCalls += len(m.ToolCalls)
	}

	content := fmt.Sprintf(
		"[compacted %d earlier messages: %d user turns, %d assistant turns, %d tool calls, spanning %s to %s]",
		len(folded), userTurns, assistantTurns, toolCalls,
		start.Format(time.RFC3339), end.Format(time.RFC3339),
	)

	return &models.Message{
		Type:      models.MessageTypeSummary,
		Role:      models.RoleSystem,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
