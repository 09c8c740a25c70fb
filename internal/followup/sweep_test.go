package followup

import (
	"errors"
	"testing"
	"time"

	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func newTestSweeper(st store.Store) *Sweeper {
	s := NewSweeper(st)
	s.now = fixedNow
	return s
}

func stagePending(t *testing.T, st store.Store, id, conversationID string, expiresAt time.Time) {
	t.Helper()
	err := st.CreatePreFollowup(models.PreFollowup{
		ID:             id,
		ConversationID: conversationID,
		ClientID:       "client-1",
		AgentID:        "agent-1",
		RemoteJID:      "5511999999999@s.whatsapp.net",
		ContactName:    "Maria",
		Status:         models.PreFollowupStatusPending,
		CreatedAt:      expiresAt.Add(-24 * time.Hour),
		ExpiresAt:      expiresAt,
		UpdatedAt:      expiresAt.Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreatePreFollowup(%s) error = %v", id, err)
	}
}

func TestSweepExpiresQuietConversationWithHistory(t *testing.T) {
	st := store.NewInMemoryStore()
	now := fixedNow()
	stagePending(t, st, "pf-1", "conv-1", now.Add(-time.Hour))

	result, err := newTestSweeper(st).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Expired != 1 {
		t.Errorf("Expired = %d, want 1", result.Expired)
	}

	row, _ := st.GetPreFollowup("pf-1")
	if row == nil || row.Status != models.PreFollowupStatusExpired {
		t.Fatalf("staging row = %+v, want expired", row)
	}

	events, err := st.ListHistoryByConversation("conv-1")
	if err != nil {
		t.Fatalf("ListHistoryByConversation() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d history events, want exactly 1", len(events))
	}
	if events[0].EventType != models.HistoryEventNoResponse {
		t.Errorf("event type = %q, want no_response", events[0].EventType)
	}
	if events[0].Metadata["reason"] != ReasonNoFollowupConfig {
		t.Errorf("reason = %v, want %q", events[0].Metadata["reason"], ReasonNoFollowupConfig)
	}
	if events[0].Metadata["contact_name"] != "Maria" {
		t.Errorf("contact_name = %v, want Maria", events[0].Metadata["contact_name"])
	}
}

func TestSweepSkipsHistoryWhenExecutionExists(t *testing.T) {
	st := store.NewInMemoryStore()
	now := fixedNow()
	stagePending(t, st, "pf-1", "conv-1", now.Add(-time.Hour))
	err := st.CreateFollowupExecution(models.FollowupExecution{
		ID:             "exec-1",
		ConversationID: "conv-1",
		Status:         models.ExecutionStatusScheduled,
		ScheduledAt:    now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateFollowupExecution() error = %v", err)
	}

	result, err := newTestSweeper(st).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The row still expires, but there must be no no_response event: something
	// was scheduled, so the silence was a follow-up outcome.
	if result.Expired != 1 {
		t.Errorf("Expired = %d, want 1", result.Expired)
	}
	row, _ := st.GetPreFollowup("pf-1")
	if row == nil || row.Status != models.PreFollowupStatusExpired {
		t.Fatalf("staging row = %+v, want expired", row)
	}
	events, _ := st.ListHistoryByConversation("conv-1")
	if len(events) != 0 {
		t.Errorf("got %d history events, want 0", len(events))
	}
}

func TestSweepRetentionBoundary(t *testing.T) {
	st := store.NewInMemoryStore()
	now := fixedNow()
	old := models.PreFollowup{ID: "pf-old", ConversationID: "conv-old", Status: models.PreFollowupStatusExpired, ExpiresAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-25 * time.Hour)}
	recent := models.PreFollowup{ID: "pf-recent", ConversationID: "conv-recent", Status: models.PreFollowupStatusExpired, ExpiresAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-23 * time.Hour)}
	for _, p := range []models.PreFollowup{old, recent} {
		if err := st.CreatePreFollowup(p); err != nil {
			t.Fatalf("CreatePreFollowup(%s) error = %v", p.ID, err)
		}
	}

	result, err := newTestSweeper(st).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", result.Deleted)
	}
	if row, _ := st.GetPreFollowup("pf-old"); row != nil {
		t.Error("pf-old (updated 25h ago) should have been deleted")
	}
	if row, _ := st.GetPreFollowup("pf-recent"); row == nil {
		t.Error("pf-recent (updated 23h ago) should have been retained")
	}
}

func TestSweepReportsStatusHistogram(t *testing.T) {
	st := store.NewInMemoryStore()
	now := fixedNow()
	stagePending(t, st, "pf-overdue", "conv-1", now.Add(-time.Hour))
	stagePending(t, st, "pf-fresh", "conv-2", now.Add(time.Hour))
	if err := st.CreatePreFollowup(models.PreFollowup{ID: "pf-done", ConversationID: "conv-3", Status: models.PreFollowupStatusProcessed, UpdatedAt: now}); err != nil {
		t.Fatalf("CreatePreFollowup() error = %v", err)
	}

	result, err := newTestSweeper(st).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.CurrentStats[models.PreFollowupStatusPending] != 1 {
		t.Errorf("pending count = %d, want 1", result.CurrentStats[models.PreFollowupStatusPending])
	}
	if result.CurrentStats[models.PreFollowupStatusExpired] != 1 {
		t.Errorf("expired count = %d, want 1", result.CurrentStats[models.PreFollowupStatusExpired])
	}
	if result.CurrentStats[models.PreFollowupStatusProcessed] != 1 {
		t.Errorf("processed count = %d, want 1", result.CurrentStats[models.PreFollowupStatusProcessed])
	}
}

// flakyHistoryStore fails every history write.
type flakyHistoryStore struct {
	store.Store
}

func (f *flakyHistoryStore) AppendHistory(models.FollowupHistory) error {
	return errors.New("history table unavailable")
}

// A failing history write is diagnostic-only and must not block expiry.
func TestSweepExpiresDespiteHistoryWriteFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	now := fixedNow()
	stagePending(t, st, "pf-1", "conv-1", now.Add(-time.Hour))

	result, err := newTestSweeper(&flakyHistoryStore{Store: st}).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Expired != 1 {
		t.Errorf("Expired = %d, want 1", result.Expired)
	}
	row, _ := st.GetPreFollowup("pf-1")
	if row == nil || row.Status != models.PreFollowupStatusExpired {
		t.Fatalf("staging row = %+v, want expired", row)
	}
	if events, _ := st.ListHistoryByConversation("conv-1"); len(events) != 0 {
		t.Errorf("got %d history events, want 0 after failed writes", len(events))
	}
}

// Re-running the sweep after a completed pass must not duplicate history or
// re-expire rows.
func TestSweepIsIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	now := fixedNow()
	stagePending(t, st, "pf-1", "conv-1", now.Add(-time.Hour))

	sweeper := newTestSweeper(st)
	if _, err := sweeper.Run(); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := sweeper.Run()
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.Expired != 0 {
		t.Errorf("second pass Expired = %d, want 0", second.Expired)
	}
	events, _ := st.ListHistoryByConversation("conv-1")
	if len(events) != 1 {
		t.Errorf("got %d history events after two passes, want 1", len(events))
	}
}
