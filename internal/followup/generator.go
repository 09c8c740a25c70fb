// Package followup implements the follow-up pipeline: configuration
// management, pre-followup staging and cleanup, promotion of staged
// conversations into scheduled sends, delivery, and pause propagation.
package followup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/juliahq/followpipe/internal/genai"
	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

// FallbackMessage is sent when automatic generation is enabled but the
// generation attempt fails. Generation is attempted exactly once per send.
const FallbackMessage = "Oi! Vi que ficou uma conversa em aberto por aqui. Posso ajudar com mais alguma coisa?"

// TextGenerator produces message text from a system prompt and conversation
// history. *genai.Client satisfies this.
type TextGenerator interface {
	GenerateWithHistory(ctx context.Context, systemPrompt string, history []models.ConversationMessage) (string, error)
}

// GenerationResult is the outcome of composing a follow-up message.
type GenerationResult struct {
	// Text is the message to send. Never empty.
	Text string `json:"text"`
	// Fallback is true when Text is the canned fallback rather than
	// generated or authored content.
	Fallback bool `json:"fallback"`
}

// Generator composes the outgoing text for a follow-up step. When the config
// has auto_message enabled it asks the LLM for a contextual message, falling
// back to a canned text on any failure; otherwise it uses the step's authored
// message verbatim.
type Generator struct {
	store store.Store
	genai TextGenerator
}

// NewGenerator creates a message generator. genai may be nil, in which case
// auto-message configs always produce the fallback text.
func NewGenerator(st store.Store, gen TextGenerator) *Generator {
	return &Generator{store: st, genai: gen}
}

// Compose determines the text for one execution of a step. The decision order
// is: authored step message when auto_message is off, generated message when
// on, canned fallback when generation fails.
func (g *Generator) Compose(ctx context.Context, cfg models.FollowupConfig, step models.FollowupStep, conversationID string) (GenerationResult, error) {
	if !cfg.AutoMessage {
		if strings.TrimSpace(step.Message) == "" {
			return GenerationResult{}, fmt.Errorf("step %d of config %s has no authored message", step.StepOrder, cfg.ID)
		}
		return GenerationResult{Text: step.Message}, nil
	}

	text, err := g.generate(ctx, cfg, step, conversationID)
	if err != nil {
		slog.Warn("Generator.Compose: generation failed, using fallback", "error", err, "conversationID", conversationID, "stepOrder", step.StepOrder)
		return GenerationResult{Text: FallbackMessage, Fallback: true}, nil
	}
	return GenerationResult{Text: text}, nil
}

func (g *Generator) generate(ctx context.Context, cfg models.FollowupConfig, step models.FollowupStep, conversationID string) (string, error) {
	if g.genai == nil {
		return "", fmt.Errorf("no generation client configured")
	}

	agent, err := g.store.GetAgent(cfg.AgentID)
	if err != nil {
		return "", fmt.Errorf("failed to load agent %s: %w", cfg.AgentID, err)
	}
	history, err := g.store.GetRecentMessages(conversationID, genai.HistoryWindow)
	if err != nil {
		return "", fmt.Errorf("failed to load conversation history: %w", err)
	}

	text, err := g.genai.GenerateWithHistory(ctx, systemPrompt(agent, step), history)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("generation returned empty text")
	}
	return text, nil
}

// systemPrompt builds the generation instructions from the agent's persona.
// agent may be nil when the agent record is missing.
func systemPrompt(agent *models.Agent, step models.FollowupStep) string {
	var b strings.Builder
	b.WriteString("You are a WhatsApp assistant re-engaging a customer who stopped replying. ")
	b.WriteString("Write one short, friendly follow-up message in the conversation's language. ")
	b.WriteString("Do not repeat earlier messages, do not apologize, and do not mention being automated.")
	if agent != nil {
		if agent.Bio != "" {
			b.WriteString("\n\nAbout you: ")
			b.WriteString(agent.Bio)
		}
		if agent.CustomInstructions != "" {
			b.WriteString("\n\nAdditional instructions: ")
			b.WriteString(agent.CustomInstructions)
		}
	}
	if step.Title != "" {
		b.WriteString("\n\nThis is the follow-up stage: ")
		b.WriteString(step.Title)
	}
	return b.String()
}
