package followup

import (
	"errors"
	"testing"
	"time"

	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

func seedAgentWithExecutions(t *testing.T, st store.Store) {
	t.Helper()
	now := fixedNow()
	if err := st.SaveAgent(models.Agent{ID: "agent-1", ClientID: "client-1", Name: "Julia"}); err != nil {
		t.Fatalf("SaveAgent() error = %v", err)
	}
	conversations := []models.Conversation{
		{ID: "conv-1", ClientID: "client-1", AgentID: "agent-1", RemoteJID: "111@s.whatsapp.net", ContactName: "Ana"},
		{ID: "conv-2", ClientID: "client-1", AgentID: "agent-1", RemoteJID: "222@s.whatsapp.net", ContactName: "Bruno"},
	}
	for _, c := range conversations {
		if err := st.SaveConversation(c); err != nil {
			t.Fatalf("SaveConversation(%s) error = %v", c.ID, err)
		}
	}
	executions := []models.FollowupExecution{
		{ID: "exec-scheduled", ConversationID: "conv-1", Status: models.ExecutionStatusScheduled, ScheduledAt: now.Add(time.Hour)},
		{ID: "exec-pending", ConversationID: "conv-2", Status: models.ExecutionStatusPending, ScheduledAt: now.Add(2 * time.Hour)},
		{ID: "exec-sent", ConversationID: "conv-1", Status: models.ExecutionStatusSent, ScheduledAt: now.Add(-time.Hour)},
	}
	for _, e := range executions {
		if err := st.CreateFollowupExecution(e); err != nil {
			t.Fatalf("CreateFollowupExecution(%s) error = %v", e.ID, err)
		}
	}
}

func TestPauseCancelsOpenExecutions(t *testing.T) {
	st := store.NewInMemoryStore()
	seedAgentWithExecutions(t, st)
	svc := NewPauseService(st)
	svc.now = fixedNow

	result, err := svc.SetPaused("agent-1", true)
	if err != nil {
		t.Fatalf("SetPaused() error = %v", err)
	}
	if result.Cancelled != 2 {
		t.Errorf("Cancelled = %d, want 2 (scheduled + pending, not sent)", result.Cancelled)
	}

	agent, _ := st.GetAgent("agent-1")
	if agent == nil || !agent.Paused {
		t.Error("agent should be flagged paused")
	}

	// One agent_paused event per cancelled execution, carrying the execution
	// id and contact metadata.
	for _, convID := range []string{"conv-1", "conv-2"} {
		events, err := st.ListHistoryByConversation(convID)
		if err != nil {
			t.Fatalf("ListHistoryByConversation(%s) error = %v", convID, err)
		}
		if len(events) != 1 {
			t.Fatalf("conversation %s: got %d history events, want 1", convID, len(events))
		}
		e := events[0]
		if e.EventType != models.HistoryEventAgentPaused {
			t.Errorf("event type = %q, want agent_paused", e.EventType)
		}
		if e.Metadata["execution_id"] == nil || e.Metadata["execution_id"] == "" {
			t.Error("agent_paused event missing execution_id")
		}
		if e.Metadata["contact_name"] == nil || e.Metadata["contact_name"] == "" {
			t.Error("agent_paused event missing contact_name")
		}
		if e.Metadata["paused_at"] == nil {
			t.Error("agent_paused event missing paused_at")
		}
	}

	// The sent execution is untouched.
	execs, _ := st.ListExecutionsByConversation("conv-1")
	for _, e := range execs {
		if e.ID == "exec-sent" && e.Status != models.ExecutionStatusSent {
			t.Errorf("sent execution status = %q, want sent", e.Status)
		}
	}
}

func TestUnpauseDoesNotResurrectExecutions(t *testing.T) {
	st := store.NewInMemoryStore()
	seedAgentWithExecutions(t, st)
	svc := NewPauseService(st)
	svc.now = fixedNow

	if _, err := svc.SetPaused("agent-1", true); err != nil {
		t.Fatalf("SetPaused(true) error = %v", err)
	}
	result, err := svc.SetPaused("agent-1", false)
	if err != nil {
		t.Fatalf("SetPaused(false) error = %v", err)
	}
	if result.Cancelled != 0 {
		t.Errorf("unpause Cancelled = %d, want 0", result.Cancelled)
	}

	agent, _ := st.GetAgent("agent-1")
	if agent == nil || agent.Paused {
		t.Error("agent should be unpaused")
	}

	// Cancelled executions stay cancelled.
	for _, convID := range []string{"conv-1", "conv-2"} {
		execs, _ := st.ListExecutionsByConversation(convID)
		for _, e := range execs {
			if e.ID == "exec-sent" {
				continue
			}
			if e.Status != models.ExecutionStatusCancelled {
				t.Errorf("execution %s status = %q, want cancelled after unpause", e.ID, e.Status)
			}
		}
	}
}

func TestPauseUnknownAgent(t *testing.T) {
	st := store.NewInMemoryStore()
	svc := NewPauseService(st)
	_, err := svc.SetPaused("missing", true)
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("SetPaused() error = %v, want ErrAgentNotFound", err)
	}
}
