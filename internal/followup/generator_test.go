package followup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

// mockTextGenerator implements TextGenerator for testing.
type mockTextGenerator struct {
	text       string
	err        error
	gotSystem  string
	gotHistory []models.ConversationMessage
}

func (m *mockTextGenerator) GenerateWithHistory(ctx context.Context, systemPrompt string, history []models.ConversationMessage) (string, error) {
	m.gotSystem = systemPrompt
	m.gotHistory = history
	return m.text, m.err
}

func autoConfig() models.FollowupConfig {
	return models.FollowupConfig{
		ID:          "cfg-1",
		ClientID:    "client-1",
		AgentID:     "agent-1",
		Active:      true,
		AutoMessage: true,
		StartHours:  "08:00:00",
		EndHours:    "20:00:00",
	}
}

func TestComposeUsesAuthoredMessage(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := NewGenerator(st, &mockTextGenerator{text: "should not be used"})

	cfg := autoConfig()
	cfg.AutoMessage = false
	step := models.FollowupStep{StepOrder: 1, Title: "First nudge", Message: "Hi, are you still interested?"}

	result, err := gen.Compose(context.Background(), cfg, step, "conv-1")
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if result.Text != step.Message {
		t.Errorf("Text = %q, want the authored step message", result.Text)
	}
	if result.Fallback {
		t.Error("Fallback = true, want false for authored messages")
	}
}

func TestComposeGeneratesWithPersonaAndHistory(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := st.SaveAgent(models.Agent{ID: "agent-1", ClientID: "client-1", Name: "Julia", Bio: "Clinic receptionist", CustomInstructions: "Always offer a booking link"}); err != nil {
		t.Fatalf("SaveAgent() error = %v", err)
	}
	now := time.Now().UTC()
	for i := 0; i < 12; i++ {
		err := st.AddConversationMessage(models.ConversationMessage{
			ID:             string(rune('a' + i)),
			ConversationID: "conv-1",
			Role:           "user",
			Content:        "message",
			CreatedAt:      now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AddConversationMessage() error = %v", err)
		}
	}

	mock := &mockTextGenerator{text: "Oi! Ainda quer agendar?"}
	gen := NewGenerator(st, mock)
	step := models.FollowupStep{StepOrder: 2, Title: "Second nudge"}

	result, err := gen.Compose(context.Background(), autoConfig(), step, "conv-1")
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if result.Text != "Oi! Ainda quer agendar?" {
		t.Errorf("Text = %q, want the generated message", result.Text)
	}
	if result.Fallback {
		t.Error("Fallback = true, want false on successful generation")
	}
	// Only the most recent window of the transcript goes to the model.
	if len(mock.gotHistory) != 10 {
		t.Errorf("history length = %d, want 10", len(mock.gotHistory))
	}
	if !strings.Contains(mock.gotSystem, "Clinic receptionist") {
		t.Error("system prompt missing agent bio")
	}
	if !strings.Contains(mock.gotSystem, "Always offer a booking link") {
		t.Error("system prompt missing custom instructions")
	}
	if !strings.Contains(mock.gotSystem, "Second nudge") {
		t.Error("system prompt missing step title")
	}
}

func TestComposeFallsBackOnGenerationFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := NewGenerator(st, &mockTextGenerator{err: errors.New("rate limited")})

	result, err := gen.Compose(context.Background(), autoConfig(), models.FollowupStep{StepOrder: 1, Title: "Nudge"}, "conv-1")
	if err != nil {
		t.Fatalf("Compose() error = %v, generation failures must not surface as errors", err)
	}
	if !result.Fallback {
		t.Error("Fallback = false, want true")
	}
	if result.Text != FallbackMessage {
		t.Errorf("Text = %q, want the canned fallback", result.Text)
	}
}

func TestComposeFallsBackOnEmptyGeneration(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := NewGenerator(st, &mockTextGenerator{text: "   "})

	result, err := gen.Compose(context.Background(), autoConfig(), models.FollowupStep{StepOrder: 1}, "conv-1")
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if !result.Fallback || result.Text != FallbackMessage {
		t.Errorf("result = %+v, want fallback for blank generation", result)
	}
}

func TestComposeFallsBackWithoutClient(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := NewGenerator(st, nil)

	result, err := gen.Compose(context.Background(), autoConfig(), models.FollowupStep{StepOrder: 1}, "conv-1")
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if !result.Fallback {
		t.Error("Fallback = false, want true when no generation client is configured")
	}
}
