package followup

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

// ErrAgentNotFound indicates a pause request referenced an unknown agent.
var ErrAgentNotFound = errors.New("agent not found")

// PauseService propagates agent pause state into the follow-up pipeline.
type PauseService struct {
	store store.Store
	now   func() time.Time
}

// NewPauseService creates a pause service backed by the given store.
func NewPauseService(st store.Store) *PauseService {
	return &PauseService{store: st, now: time.Now}
}

// SetPaused updates an agent's pause flag. Pausing cancels every open
// (scheduled or pending) execution of the agent's conversations and writes one
// agent_paused history event per cancelled execution. Unpausing only clears
// the flag; cancelled executions are never resurrected.
func (p *PauseService) SetPaused(agentID string, paused bool) (models.PauseResult, error) {
	agent, err := p.store.GetAgent(agentID)
	if err != nil {
		return models.PauseResult{}, fmt.Errorf("failed to load agent: %w", err)
	}
	if agent == nil {
		return models.PauseResult{}, ErrAgentNotFound
	}

	now := p.now().UTC()
	if err := p.store.SetAgentPaused(agentID, paused, now); err != nil {
		return models.PauseResult{}, fmt.Errorf("failed to update agent pause state: %w", err)
	}

	result := models.PauseResult{AgentID: agentID, Paused: paused}
	if !paused {
		slog.Info("PauseService.SetPaused: agent unpaused", "agentID", agentID)
		return result, nil
	}

	cancelled, err := p.store.CancelOpenExecutionsForAgent(agentID, now)
	if err != nil {
		return result, fmt.Errorf("failed to cancel open executions: %w", err)
	}
	result.Cancelled = len(cancelled)

	for _, exec := range cancelled {
		metadata := map[string]interface{}{
			"execution_id": exec.ID,
			"step_order":   exec.StepOrder,
			"step_title":   exec.StepTitle,
			"paused_at":    now.Format(time.RFC3339),
		}
		if conv, err := p.store.GetConversation(exec.ConversationID); err == nil && conv != nil {
			metadata["contact_name"] = conv.ContactName
			metadata["remote_jid"] = conv.RemoteJID
		}
		event := models.FollowupHistory{
			ID:             uuid.New().String(),
			ConversationID: exec.ConversationID,
			EventType:      models.HistoryEventAgentPaused,
			Metadata:       metadata,
			CreatedAt:      now,
		}
		if err := p.store.AppendHistory(event); err != nil {
			slog.Error("PauseService.SetPaused: failed to append agent_paused history", "error", err, "executionID", exec.ID)
		}
	}

	slog.Info("PauseService.SetPaused: agent paused", "agentID", agentID, "cancelled", result.Cancelled)
	return result, nil
}
