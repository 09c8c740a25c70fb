package followup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

// PromoteResult summarizes one promotion pass.
type PromoteResult struct {
	// Promoted counts staging rows turned into scheduled executions.
	Promoted int `json:"promoted"`
	// Scheduled counts individual executions created.
	Scheduled int `json:"scheduled"`
	// Skipped counts staging rows left pending (no active config, paused
	// agent, or trigger delay not yet elapsed).
	Skipped int `json:"skipped"`
}

// Promoter turns pending staging rows into scheduled follow-up executions once
// their config's trigger delay has elapsed.
type Promoter struct {
	store store.Store
	now   func() time.Time
}

// NewPromoter creates a promoter backed by the given store.
func NewPromoter(st store.Store) *Promoter {
	return &Promoter{store: st, now: time.Now}
}

// Run performs one promotion pass over pending staging rows. For each row
// whose trigger delay has elapsed it schedules one execution per configured
// step, spaced by the cumulative step intervals and clamped into the config's
// send window, then marks the row processed. Rows without an active config or
// whose agent is paused stay pending; the sweep will expire them.
func (p *Promoter) Run() (PromoteResult, error) {
	now := p.now().UTC()
	pending, err := p.store.ListPendingPreFollowups(now)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("failed to list pending staging rows: %w", err)
	}

	var result PromoteResult
	for _, row := range pending {
		promoted, scheduled, err := p.promote(row, now)
		if err != nil {
			slog.Error("Promoter.Run: promotion failed", "error", err, "preFollowupID", row.ID, "conversationID", row.ConversationID)
			result.Skipped++
			continue
		}
		if !promoted {
			result.Skipped++
			continue
		}
		result.Promoted++
		result.Scheduled += scheduled
	}
	if result.Promoted > 0 {
		slog.Info("Promoter.Run: promotion pass complete", "promoted", result.Promoted, "scheduled", result.Scheduled, "skipped", result.Skipped)
	}
	return result, nil
}

func (p *Promoter) promote(row models.PreFollowup, now time.Time) (bool, int, error) {
	cfg, err := p.store.GetFollowupConfig(row.ClientID, row.AgentID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg == nil || !cfg.Active {
		return false, 0, nil
	}

	// Trigger delay counts from when the conversation went quiet.
	if now.Before(row.CreatedAt.Add(time.Duration(cfg.TriggerDelayMinutes) * time.Minute)) {
		return false, 0, nil
	}

	agent, err := p.store.GetAgent(row.AgentID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to load agent: %w", err)
	}
	if agent != nil && agent.Paused {
		return false, 0, nil
	}

	// One active sequence per conversation. A row whose conversation already
	// has executions is consumed without scheduling anything new.
	active, err := p.store.HasActiveExecution(row.ConversationID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to check active executions: %w", err)
	}
	if active {
		if err := p.store.MarkPreFollowupProcessed(row.ID, now); err != nil {
			return false, 0, fmt.Errorf("failed to mark staging row processed: %w", err)
		}
		slog.Debug("Promoter.promote: conversation already has executions, consuming staging row", "preFollowupID", row.ID, "conversationID", row.ConversationID)
		return true, 0, nil
	}

	scheduled := 0
	sendAt := now
	for _, step := range selectSteps(*cfg) {
		sendAt = sendAt.Add(step.Interval())
		exec := models.FollowupExecution{
			ID:             uuid.New().String(),
			ConversationID: row.ConversationID,
			ConfigID:       cfg.ID,
			StepOrder:      step.StepOrder,
			StepTitle:      step.Title,
			Message:        step.Message,
			ScheduledAt:    cfg.ClampToSendWindow(sendAt),
			Status:         models.ExecutionStatusScheduled,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := p.store.CreateFollowupExecution(exec); err != nil {
			return false, scheduled, fmt.Errorf("failed to schedule step %d: %w", step.StepOrder, err)
		}
		scheduled++
	}

	if err := p.store.MarkPreFollowupProcessed(row.ID, now); err != nil {
		return false, scheduled, fmt.Errorf("failed to mark staging row processed: %w", err)
	}
	slog.Debug("Promoter.promote: staging row promoted", "preFollowupID", row.ID, "conversationID", row.ConversationID, "scheduled", scheduled)
	return true, scheduled, nil
}

// selectSteps returns the steps the loop bounds admit, in step order. Bounds
// are 1-based and inclusive; when unset, all steps are used. Inverted bounds
// are rejected at validation time, but rows saved before that check existed
// may still carry them, so the range is treated as order-insensitive here
// rather than silently matching nothing.
func selectSteps(cfg models.FollowupConfig) []models.FollowupStep {
	if cfg.FollowupFrom == nil || cfg.FollowupTo == nil {
		return cfg.Steps
	}
	from, to := *cfg.FollowupFrom, *cfg.FollowupTo
	if from > to {
		from, to = to, from
	}
	var steps []models.FollowupStep
	for _, s := range cfg.Steps {
		if s.StepOrder >= from && s.StepOrder <= to {
			steps = append(steps, s)
		}
	}
	return steps
}
