package runcontrol

import (
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func deltaEvent(runID, text string) func(seq int64, now time.Time) *models.RunEvent {
	return func(seq int64, now time.Time) *models.RunEvent {
		return &models.RunEvent{
			Type:           models.RunEventAssistantDelta,
			RunID:          runID,
			Seq:            seq,
			CreatedAt:      now,
			AssistantDelta: &models.AssistantDeltaPayload{Text: text},
		}
	}
}

func assistantFinalEvent(runID, content string, toolCalls []models.ToolCall) func(seq int64, now time.Time) *models.RunEvent {
	return func(seq int64, now time.Time) *models.RunEvent {
		return &models.RunEvent{
			Type:      models.RunEventAssistantFinal,
			RunID:     runID,
			Seq:       seq,
			CreatedAt: now,
			AssistantFinal: &models.AssistantFinalPayload{
				Content:   content,
				ToolCalls: toolCalls,
			},
		}
	}
}

func toolCallEvent(runID string, te *models.ToolEvent) func(seq int64, now time.Time) *models.RunEvent {
	return func(seq int64, now time.Time) *models.RunEvent {
		return &models.RunEvent{
			Type:      models.RunEventToolCall,
			RunID:     runID,
			Seq:       seq,
			CreatedAt: now,
			ToolCall: &models.ToolCallPayload{
				CallID: te.ToolCallID,
				Name:   te.ToolName,
				Args:   te.Input,
			},
		}
	}
}

func toolResultEvent(runID string, tr *models.ToolResult) func(seq int64, now time.Time) *models.RunEvent {
	return func(seq int64, now time.Time) *models.RunEvent {
		return &models.RunEvent{
			Type:      models.RunEventToolResult,
			RunID:     runID,
			Seq:       seq,
			CreatedAt: now,
			ToolResult: &models.ToolResultPayload{
				CallID:  tr.ToolCallID,
				Success: !tr.IsError,
				Output:  tr.Content,
			},
		}
	}
}

func statusEvent(runID string, status models.RunStatus, kind, errMsg string) func(seq int64, now time.Time) *models.RunEvent {
	return func(seq int64, now time.Time) *models.RunEvent {
		return &models.RunEvent{
			Type:      models.RunEventStatus,
			RunID:     runID,
			Seq:       seq,
			CreatedAt: now,
			Status: &models.RunStatusPayload{
				State: dbStatusToWire(status),
				Kind:  models.RunStatusKind(kind),
				Error: errMsg,
			},
		}
	}
}

func errorEvent(runID string, err error) func(seq int64, now time.Time) *models.RunEvent {
	return func(seq int64, now time.Time) *models.RunEvent {
		return &models.RunEvent{
			Type:      models.RunEventError,
			RunID:     runID,
			Seq:       seq,
			CreatedAt: now,
			Error: &models.RunErrorPayload{
				Message:     err.Error(),
				Recoverable: true,
			},
		}
	}
}

func dbStatusToWire(s models.RunStatus) models.RunStatusState {
	switch s {
	case models.RunStatusCompletedDB:
		return models.RunStatusCompleted
	case models.RunStatusStoppedDB:
		return models.RunStatusStopped
	case models.RunStatusFailedDB:
		return models.RunStatusFailed
	default:
		return models.RunStatusRunning
	}
}
