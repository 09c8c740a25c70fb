package followup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

const (
	// MaxSendAttempts caps delivery retries per execution. After the cap the
	// execution is marked failed and never retried.
	MaxSendAttempts = 3
	// DefaultDeliveryBatchSize limits how many due executions one delivery
	// pass claims.
	DefaultDeliveryBatchSize = 50
)

// MessageSender delivers message text to a recipient. messaging.Service
// implementations satisfy this.
type MessageSender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// DeliveryResult summarizes one delivery pass.
type DeliveryResult struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Deliverer claims due executions, composes their message text, and sends
// them through the messaging service.
type Deliverer struct {
	store     store.Store
	generator *Generator
	sender    MessageSender
	batchSize int
	now       func() time.Time
}

// DeliverOption configures a Deliverer.
type DeliverOption func(*Deliverer)

// WithBatchSize overrides how many due executions one pass claims.
func WithBatchSize(n int) DeliverOption {
	return func(d *Deliverer) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// NewDeliverer creates a delivery worker.
func NewDeliverer(st store.Store, gen *Generator, sender MessageSender, opts ...DeliverOption) *Deliverer {
	d := &Deliverer{
		store:     st,
		generator: gen,
		sender:    sender,
		batchSize: DefaultDeliveryBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run performs one delivery pass: claim due executions, compose and send each,
// and record the outcome. A failed send increments the execution's attempt
// counter; once MaxSendAttempts is reached the execution is marked failed.
func (d *Deliverer) Run(ctx context.Context) (DeliveryResult, error) {
	now := d.now().UTC()
	claimed, err := d.store.ClaimDueExecutions(now, d.batchSize)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("failed to claim due executions: %w", err)
	}

	result := DeliveryResult{Claimed: len(claimed)}
	for _, exec := range claimed {
		if err := d.deliver(ctx, exec); err != nil {
			slog.Warn("Deliverer.Run: delivery failed", "error", err, "executionID", exec.ID, "conversationID", exec.ConversationID, "attempt", exec.Attempts+1)
			if failErr := d.store.FailExecution(exec.ID, err.Error(), MaxSendAttempts, d.now().UTC()); failErr != nil {
				slog.Error("Deliverer.Run: failed to record delivery failure", "error", failErr, "executionID", exec.ID)
			}
			result.Failed++
			continue
		}
		result.Sent++
	}
	if result.Claimed > 0 {
		slog.Info("Deliverer.Run: delivery pass complete", "claimed", result.Claimed, "sent", result.Sent, "failed", result.Failed)
	}
	return result, nil
}

func (d *Deliverer) deliver(ctx context.Context, exec models.FollowupExecution) error {
	conv, err := d.store.GetConversation(exec.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("conversation %s not found", exec.ConversationID)
	}

	cfg, err := d.store.GetFollowupConfig(conv.ClientID, conv.AgentID)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg == nil {
		return fmt.Errorf("no followup config for client %s agent %s", conv.ClientID, conv.AgentID)
	}

	step := models.FollowupStep{
		ConfigID:  exec.ConfigID,
		StepOrder: exec.StepOrder,
		Title:     exec.StepTitle,
		Message:   exec.Message,
	}
	composed, err := d.generator.Compose(ctx, *cfg, step, exec.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}

	if err := d.sender.SendMessage(ctx, conv.RemoteJID, composed.Text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	now := d.now().UTC()
	if err := d.store.MarkExecutionSent(exec.ID, composed.Text, now); err != nil {
		return fmt.Errorf("failed to mark execution sent: %w", err)
	}

	event := models.FollowupHistory{
		ID:             uuid.New().String(),
		ConversationID: exec.ConversationID,
		EventType:      models.HistoryEventMessageSent,
		Metadata: map[string]interface{}{
			"execution_id": exec.ID,
			"step_order":   exec.StepOrder,
			"step_title":   exec.StepTitle,
			"fallback":     composed.Fallback,
		},
		CreatedAt: now,
	}
	if err := d.store.AppendHistory(event); err != nil {
		slog.Error("Deliverer.deliver: failed to append message_sent history", "error", err, "executionID", exec.ID)
	}

	msg := models.ConversationMessage{
		ID:             uuid.New().String(),
		ConversationID: exec.ConversationID,
		Role:           "assistant",
		Content:        composed.Text,
		CreatedAt:      now,
	}
	if err := d.store.AddConversationMessage(msg); err != nil {
		slog.Error("Deliverer.deliver: failed to append transcript message", "error", err, "executionID", exec.ID)
	}
	slog.Debug("Deliverer.deliver: message sent", "executionID", exec.ID, "conversationID", exec.ConversationID, "stepOrder", exec.StepOrder, "fallback", composed.Fallback)
	return nil
}
