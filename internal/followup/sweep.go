package followup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

const (
	// TerminalRetention is how long processed/expired staging rows are kept
	// before the sweep hard-deletes them.
	TerminalRetention = 24 * time.Hour
	// ExpiryReason is recorded on staging rows expired by the sweep.
	ExpiryReason = "expired_by_cleanup"
	// ReasonNoFollowupConfig tags no_response history events for conversations
	// that went quiet without anything ever being scheduled.
	ReasonNoFollowupConfig = "no_followup_config"
)

// Sweeper runs the periodic pre-followup cleanup.
type Sweeper struct {
	store store.Store
	now   func() time.Time
}

// NewSweeper creates a cleanup sweeper backed by the given store.
func NewSweeper(st store.Store) *Sweeper {
	return &Sweeper{store: st, now: time.Now}
}

// Run performs one cleanup pass:
//
//  1. list pending staging rows past their expiry,
//  2. for each with no active execution, append a no_response history event
//     (read-only diagnostics, intentionally not transactional with step 3),
//  3. bulk-transition all overdue pending rows to expired,
//  4. hard-delete terminal rows older than the retention period,
//  5. report counts plus a status histogram.
//
// Error handling is deliberately two-tiered: a failure in any phase-level
// store call (steps 1, 3, 4, 5) aborts the pass, while per-row errors in
// step 2 — the active-execution check or the history write — are logged and
// skipped. Those rows still expire in step 3; a partially-written diagnostic
// trail is preferable to blocking expiry.
func (s *Sweeper) Run() (models.SweepResult, error) {
	now := s.now().UTC()
	slog.Debug("Sweeper.Run: starting cleanup pass", "now", now)

	overdue, err := s.store.ListExpiredPending(now)
	if err != nil {
		return models.SweepResult{}, fmt.Errorf("failed to list overdue staging rows: %w", err)
	}

	for _, p := range overdue {
		active, err := s.store.HasActiveExecution(p.ConversationID)
		if err != nil {
			slog.Error("Sweeper.Run: active-execution check failed", "error", err, "conversationID", p.ConversationID)
			continue
		}
		if active {
			continue
		}
		event := models.FollowupHistory{
			ID:             uuid.New().String(),
			ConversationID: p.ConversationID,
			EventType:      models.HistoryEventNoResponse,
			Metadata: map[string]interface{}{
				"reason":       ReasonNoFollowupConfig,
				"remote_jid":   p.RemoteJID,
				"contact_name": p.ContactName,
				"expired_at":   p.ExpiresAt.Format(time.RFC3339),
			},
			CreatedAt: now,
		}
		if err := s.store.AppendHistory(event); err != nil {
			slog.Error("Sweeper.Run: failed to append no_response history", "error", err, "conversationID", p.ConversationID)
		}
	}

	expired, err := s.store.ExpirePending(now, ExpiryReason)
	if err != nil {
		return models.SweepResult{}, fmt.Errorf("failed to expire pending rows: %w", err)
	}

	deleted, err := s.store.DeleteTerminalPreFollowupsBefore(now.Add(-TerminalRetention))
	if err != nil {
		return models.SweepResult{}, fmt.Errorf("failed to delete terminal rows: %w", err)
	}

	stats, err := s.store.CountPreFollowupsByStatus()
	if err != nil {
		return models.SweepResult{}, fmt.Errorf("failed to count staging rows: %w", err)
	}

	result := models.SweepResult{Expired: expired, Deleted: deleted, CurrentStats: stats}
	slog.Info("Sweeper.Run: cleanup pass complete", "expired", expired, "deleted", deleted)
	return result, nil
}
