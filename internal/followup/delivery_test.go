package followup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

// mockSender implements MessageSender for testing.
type mockSender struct {
	err  error
	sent []struct{ to, body string }
}

func (m *mockSender) SendMessage(ctx context.Context, to, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, struct{ to, body string }{to, body})
	return nil
}

func seedDueExecution(t *testing.T, st store.Store) models.FollowupExecution {
	t.Helper()
	now := fixedNow()
	cfg := promoterConfig()
	cfg.AutoMessage = false
	seedConfig(t, st, cfg)
	err := st.SaveConversation(models.Conversation{
		ID: "conv-1", ClientID: "client-1", AgentID: "agent-1",
		RemoteJID: "5511999999999@s.whatsapp.net", ContactName: "Ana",
	})
	if err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	exec := models.FollowupExecution{
		ID:             "exec-1",
		ConversationID: "conv-1",
		ConfigID:       cfg.ID,
		StepOrder:      1,
		StepTitle:      "First nudge",
		Message:        "Still interested in booking?",
		ScheduledAt:    now.Add(-time.Minute),
		Status:         models.ExecutionStatusScheduled,
	}
	if err := st.CreateFollowupExecution(exec); err != nil {
		t.Fatalf("CreateFollowupExecution() error = %v", err)
	}
	return exec
}

func newTestDeliverer(st store.Store, sender MessageSender) *Deliverer {
	d := NewDeliverer(st, NewGenerator(st, nil), sender)
	d.now = fixedNow
	return d
}

func TestDelivererSendsDueExecution(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := seedDueExecution(t, st)
	sender := &mockSender{}

	result, err := newTestDeliverer(st, sender).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Claimed != 1 || result.Sent != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 1 claimed / 1 sent", result)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sender received %d messages, want 1", len(sender.sent))
	}
	if sender.sent[0].to != "5511999999999@s.whatsapp.net" {
		t.Errorf("sent to %q, want the conversation's remote JID", sender.sent[0].to)
	}
	if sender.sent[0].body != exec.Message {
		t.Errorf("sent body %q, want the authored step message", sender.sent[0].body)
	}

	execs, _ := st.ListExecutionsByConversation("conv-1")
	if len(execs) != 1 || execs[0].Status != models.ExecutionStatusSent {
		t.Errorf("execution after delivery = %+v, want sent", execs)
	}

	events, _ := st.ListHistoryByConversation("conv-1")
	if len(events) != 1 || events[0].EventType != models.HistoryEventMessageSent {
		t.Fatalf("history = %+v, want one message_sent event", events)
	}
	if events[0].Metadata["execution_id"] != "exec-1" {
		t.Errorf("history execution_id = %v, want exec-1", events[0].Metadata["execution_id"])
	}

	// Delivered text is appended to the transcript as an assistant turn.
	msgs, _ := st.GetRecentMessages("conv-1", 10)
	if len(msgs) != 1 || msgs[0].Role != "assistant" || msgs[0].Content != exec.Message {
		t.Errorf("transcript = %+v, want one assistant message", msgs)
	}
}

func TestDelivererRetriesThenFails(t *testing.T) {
	st := store.NewInMemoryStore()
	seedDueExecution(t, st)
	sender := &mockSender{err: errors.New("provider unreachable")}
	d := newTestDeliverer(st, sender)

	for attempt := 1; attempt <= MaxSendAttempts; attempt++ {
		result, err := d.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() attempt %d error = %v", attempt, err)
		}
		if result.Failed != 1 {
			t.Fatalf("attempt %d: Failed = %d, want 1", attempt, result.Failed)
		}
		execs, _ := st.ListExecutionsByConversation("conv-1")
		got := execs[0]
		if got.Attempts != attempt {
			t.Errorf("attempt %d: Attempts = %d", attempt, got.Attempts)
		}
		want := models.ExecutionStatusScheduled
		if attempt == MaxSendAttempts {
			want = models.ExecutionStatusFailed
		}
		if got.Status != want {
			t.Errorf("attempt %d: status = %q, want %q", attempt, got.Status, want)
		}
		if got.LastError == "" {
			t.Errorf("attempt %d: LastError empty", attempt)
		}
	}

	// The failed execution is never claimed again.
	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("final Run() error = %v", err)
	}
	if result.Claimed != 0 {
		t.Errorf("claimed %d after permanent failure, want 0", result.Claimed)
	}
	if events, _ := st.ListHistoryByConversation("conv-1"); len(events) != 0 {
		t.Errorf("history = %+v, want none for undelivered messages", events)
	}
}

func TestDelivererIgnoresFutureExecutions(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := seedDueExecution(t, st)
	exec.ID = "exec-future"
	exec.ScheduledAt = fixedNow().Add(time.Hour)
	if err := st.CreateFollowupExecution(exec); err != nil {
		t.Fatalf("CreateFollowupExecution() error = %v", err)
	}
	sender := &mockSender{}

	result, err := newTestDeliverer(st, sender).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Claimed != 1 {
		t.Errorf("Claimed = %d, want only the due execution", result.Claimed)
	}
}
