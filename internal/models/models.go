// Package models defines the core data structures for FollowPipe.
//
// It includes follow-up configurations, staging records, executions and the
// append-only history log, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// StepIntervalUnit defines the time unit of a follow-up step interval.
type StepIntervalUnit string

const (
	// IntervalUnitMinutes measures the step interval in minutes.
	IntervalUnitMinutes StepIntervalUnit = "minutes"
	// IntervalUnitHours measures the step interval in hours.
	IntervalUnitHours StepIntervalUnit = "hours"
	// IntervalUnitDays measures the step interval in days.
	IntervalUnitDays StepIntervalUnit = "days"
)

// Validation constants for follow-up configurations.
const (
	// MinStepTitleLength defines the minimum length for step titles.
	MinStepTitleLength = 3
	// MinStepMessageLength defines the minimum length for authored step messages.
	MinStepMessageLength = 10
	// SendWindowTimeLayout is the layout for send-window times of day.
	SendWindowTimeLayout = "15:04:05"
)

// Error variables for better error handling and testability
var (
	ErrMissingClientID     = errors.New("client_id is required")
	ErrMissingAgentID      = errors.New("agent_id is required")
	ErrNoSteps             = errors.New("at least one step is required")
	ErrStepTitleTooShort   = errors.New("step title must be at least 3 characters")
	ErrStepIntervalInvalid = errors.New("step interval must be greater than zero")
	ErrStepUnitInvalid     = errors.New("step interval unit must be minutes, hours or days")
	ErrStepMessageTooShort = errors.New("step message must be at least 10 characters")
	ErrLoopBoundsEqual     = errors.New("loop bounds must reference different steps")
	ErrLoopBoundsInverted  = errors.New("loop start must come before loop end")
	ErrLoopBoundOutOfRange = errors.New("loop bound references a step that does not exist")
	ErrSendWindowInvalid   = errors.New("send window times must be in HH:MM:SS format")
	ErrSendWindowInverted  = errors.New("send window end must be after start")
)

// IsValidIntervalUnit checks if the given step interval unit is supported.
func IsValidIntervalUnit(u StepIntervalUnit) bool {
	switch u {
	case IntervalUnitMinutes, IntervalUnitHours, IntervalUnitDays:
		return true
	default:
		return false
	}
}

// FollowupStep represents one stage in a drip-message sequence.
// StepOrder is 1-based and always equals the step's position in the saved
// configuration; steps are fully replaced on every save, never patched.
type FollowupStep struct {
	ID            string           `json:"id,omitempty"`
	ConfigID      string           `json:"config_id,omitempty"`
	StepOrder     int              `json:"step_order"`
	Title         string           `json:"title"`
	IntervalValue int              `json:"interval_value"`
	IntervalUnit  StepIntervalUnit `json:"interval_unit"`
	Message       string           `json:"message,omitempty"` // empty when auto-message generates text at send time
}

// Interval returns the step delay as a duration.
func (s FollowupStep) Interval() time.Duration {
	switch s.IntervalUnit {
	case IntervalUnitHours:
		return time.Duration(s.IntervalValue) * time.Hour
	case IntervalUnitDays:
		return time.Duration(s.IntervalValue) * 24 * time.Hour
	default:
		return time.Duration(s.IntervalValue) * time.Minute
	}
}

// FollowupConfig holds the drip-campaign configuration for one (client, agent)
// pair together with its ordered steps.
type FollowupConfig struct {
	ID                  string         `json:"id,omitempty"`
	ClientID            string         `json:"client_id"`
	AgentID             string         `json:"agent_id"`
	Active              bool           `json:"active"`
	AutoMessage         bool           `json:"auto_message"`
	StartHours          string         `json:"start_hours"` // e.g. "08:00:00"
	EndHours            string         `json:"end_hours"`   // e.g. "20:00:00"
	FollowupFrom        *int           `json:"followup_from,omitempty"`
	FollowupTo          *int           `json:"followup_to,omitempty"`
	TriggerDelayMinutes int            `json:"trigger_delay_minutes"`
	Steps               []FollowupStep `json:"steps"`
	CreatedAt           time.Time      `json:"created_at,omitempty"`
	UpdatedAt           time.Time      `json:"updated_at,omitempty"`
}

// Validate performs comprehensive validation on a follow-up configuration.
// It rejects the whole config on the first violation; saves are all-or-nothing.
func (c *FollowupConfig) Validate() error {
	if c.ClientID == "" {
		return ErrMissingClientID
	}
	if c.AgentID == "" {
		return ErrMissingAgentID
	}
	if len(c.Steps) == 0 {
		return ErrNoSteps
	}

	for _, s := range c.Steps {
		if err := c.validateStep(s); err != nil {
			return err
		}
	}

	if c.FollowupFrom != nil && c.FollowupTo != nil {
		if *c.FollowupFrom == *c.FollowupTo {
			return ErrLoopBoundsEqual
		}
		if *c.FollowupFrom > *c.FollowupTo {
			return ErrLoopBoundsInverted
		}
		if *c.FollowupFrom < 1 || *c.FollowupFrom > len(c.Steps) ||
			*c.FollowupTo < 1 || *c.FollowupTo > len(c.Steps) {
			return ErrLoopBoundOutOfRange
		}
	}

	return c.validateSendWindow()
}

// validateStep validates a single step in the context of the config.
func (c *FollowupConfig) validateStep(s FollowupStep) error {
	if utf8.RuneCountInString(s.Title) < MinStepTitleLength {
		return ErrStepTitleTooShort
	}
	if s.IntervalValue <= 0 {
		return ErrStepIntervalInvalid
	}
	if !IsValidIntervalUnit(s.IntervalUnit) {
		return ErrStepUnitInvalid
	}
	// Authored message text is only required when auto-message is off;
	// otherwise text is generated at send time and stored as null.
	if !c.AutoMessage && utf8.RuneCountInString(s.Message) < MinStepMessageLength {
		return ErrStepMessageTooShort
	}
	return nil
}

// validateSendWindow checks that the allowed send window is well-formed.
func (c *FollowupConfig) validateSendWindow() error {
	start, err := time.Parse(SendWindowTimeLayout, c.StartHours)
	if err != nil {
		return ErrSendWindowInvalid
	}
	end, err := time.Parse(SendWindowTimeLayout, c.EndHours)
	if err != nil {
		return ErrSendWindowInvalid
	}
	if !end.After(start) {
		return ErrSendWindowInverted
	}
	return nil
}

// InSendWindow reports whether the time of day of t falls inside the config's
// allowed send window.
func (c *FollowupConfig) InSendWindow(t time.Time) bool {
	start, err1 := time.Parse(SendWindowTimeLayout, c.StartHours)
	end, err2 := time.Parse(SendWindowTimeLayout, c.EndHours)
	if err1 != nil || err2 != nil {
		return true // malformed windows never block sends; validation rejects them on save
	}
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), start.Hour(), start.Minute(), start.Second(), 0, t.Location())
	dayEnd := time.Date(t.Year(), t.Month(), t.Day(), end.Hour(), end.Minute(), end.Second(), 0, t.Location())
	return !t.Before(dayStart) && t.Before(dayEnd)
}

// ClampToSendWindow returns t unchanged when it falls inside the send window,
// otherwise the next window opening (same day if before the window, next day
// if after it).
func (c *FollowupConfig) ClampToSendWindow(t time.Time) time.Time {
	if c.InSendWindow(t) {
		return t
	}
	start, err := time.Parse(SendWindowTimeLayout, c.StartHours)
	if err != nil {
		return t
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), start.Hour(), start.Minute(), start.Second(), 0, t.Location())
	if t.Before(open) {
		return open
	}
	return open.Add(24 * time.Hour)
}

// PreFollowupStatus represents the lifecycle state of a staging record.
type PreFollowupStatus string

const (
	// PreFollowupStatusPending indicates the record awaits promotion or expiry.
	PreFollowupStatusPending PreFollowupStatus = "pending"
	// PreFollowupStatusProcessed indicates the record was promoted to executions.
	PreFollowupStatusProcessed PreFollowupStatus = "processed"
	// PreFollowupStatusExpired indicates the record expired before promotion.
	PreFollowupStatusExpired PreFollowupStatus = "expired"
	// PreFollowupStatusCancelled indicates the record was cancelled.
	PreFollowupStatusCancelled PreFollowupStatus = "cancelled"
)

// PreFollowup is a transient staging record marking that a conversation went
// quiet and may need a follow-up. It is consumed by the promoter or expired
// by the cleanup sweep, and hard-deleted after the retention period.
type PreFollowup struct {
	ID                 string            `json:"id"`
	ConversationID     string            `json:"conversation_id"`
	ClientID           string            `json:"client_id"`
	AgentID            string            `json:"agent_id"`
	RemoteJID          string            `json:"remote_jid"`
	ContactName        string            `json:"contact_name,omitempty"`
	Status             PreFollowupStatus `json:"status"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// ExecutionStatus represents the lifecycle state of a follow-up execution.
type ExecutionStatus string

const (
	// ExecutionStatusScheduled indicates the send is scheduled for the future.
	ExecutionStatusScheduled ExecutionStatus = "scheduled"
	// ExecutionStatusPending indicates the send is due and awaiting delivery.
	ExecutionStatusPending ExecutionStatus = "pending"
	// ExecutionStatusSent indicates the message was delivered.
	ExecutionStatusSent ExecutionStatus = "sent"
	// ExecutionStatusFailed indicates delivery failed after all attempts.
	ExecutionStatusFailed ExecutionStatus = "failed"
	// ExecutionStatusCancelled indicates the execution was cancelled.
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// ActiveExecutionStatuses are the states that count as an outstanding or
// completed follow-up when the sweep decides whether a conversation's silence
// was a missing-configuration condition.
var ActiveExecutionStatuses = []ExecutionStatus{
	ExecutionStatusScheduled,
	ExecutionStatusPending,
	ExecutionStatusSent,
}

// FollowupExecution is one concrete scheduled send attempt tied to a
// conversation.
type FollowupExecution struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	ConfigID       string          `json:"config_id"`
	StepOrder      int             `json:"step_order"`
	StepTitle      string          `json:"step_title"`
	Message        string          `json:"message,omitempty"` // empty until generated for auto-message configs
	ScheduledAt    time.Time       `json:"scheduled_at"`
	Status         ExecutionStatus `json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HistoryEventType identifies the kind of a follow-up history event.
type HistoryEventType string

const (
	// HistoryEventNoResponse records that a conversation went quiet with no
	// follow-up ever scheduled for it.
	HistoryEventNoResponse HistoryEventType = "no_response"
	// HistoryEventAgentPaused records an execution cancelled by an agent pause.
	HistoryEventAgentPaused HistoryEventType = "agent_paused"
	// HistoryEventMessageSent records a delivered follow-up message.
	HistoryEventMessageSent HistoryEventType = "message_sent"
)

// FollowupHistory is an append-only audit event for a conversation. History
// rows are never updated or deleted and outlive their triggering rows.
type FollowupHistory struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	EventType      HistoryEventType       `json:"event_type"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Agent is the conversational-AI persona that owns conversations. Only the
// fields the follow-up engine needs are modeled here; the admin panel owns
// the rest of the agent record.
type Agent struct {
	ID                 string    `json:"id"`
	ClientID           string    `json:"client_id"`
	Name               string    `json:"name"`
	Bio                string    `json:"bio,omitempty"`
	CustomInstructions string    `json:"custom_instructions,omitempty"`
	Paused             bool      `json:"paused"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Conversation links a WhatsApp contact to an agent.
type Conversation struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"client_id"`
	AgentID       string    `json:"agent_id"`
	RemoteJID     string    `json:"remote_jid"`
	ContactName   string    `json:"contact_name,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// ConversationMessage is a single message in a conversation transcript.
type ConversationMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// SweepResult aggregates the outcome of one cleanup sweep run.
type SweepResult struct {
	Expired      int                       `json:"expired"`
	Deleted      int                       `json:"deleted"`
	CurrentStats map[PreFollowupStatus]int `json:"current_stats"`
}

// PauseResult aggregates the outcome of one pause propagation run.
type PauseResult struct {
	AgentID   string `json:"agent_id"`
	Paused    bool   `json:"paused"`
	Cancelled int    `json:"cancelled"`
}

// PauseRequest is the payload for flipping an agent's global pause flag.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// String implements fmt.Stringer for sweep results, used in log output.
func (r SweepResult) String() string {
	return fmt.Sprintf("expired=%d deleted=%d", r.Expired, r.Deleted)
}
