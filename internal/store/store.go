// Package store provides storage backends for FollowPipe.
//
// It includes PostgreSQL and SQLite implementations of the Store interface
// plus an in-memory store used in tests.
package store

import (
	"strings"
	"time"

	"github.com/juliahq/followpipe/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType detects whether a DSN refers to PostgreSQL or SQLite.
// PostgreSQL DSNs use URL or key=value forms; everything else is treated as
// a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store defines the persistence operations the follow-up engine depends on.
// Lookups that find nothing return (nil, nil) rather than an error.
type Store interface {
	// Follow-up configurations. SaveFollowupConfig replaces the config's step
	// collection atomically: upsert config, delete prior steps, insert new ones.
	SaveFollowupConfig(cfg models.FollowupConfig) error
	GetFollowupConfig(clientID, agentID string) (*models.FollowupConfig, error)
	ListFollowupConfigs() ([]models.FollowupConfig, error)
	DeleteFollowupConfig(id string) error

	// Pre-follow-up staging records.
	CreatePreFollowup(p models.PreFollowup) error
	GetPreFollowup(id string) (*models.PreFollowup, error)
	ListPendingPreFollowups(now time.Time) ([]models.PreFollowup, error)
	ListExpiredPending(now time.Time) ([]models.PreFollowup, error)
	ExpirePending(now time.Time, reason string) (int, error)
	MarkPreFollowupProcessed(id string, now time.Time) error
	DeleteTerminalPreFollowupsBefore(cutoff time.Time) (int, error)
	CountPreFollowupsByStatus() (map[models.PreFollowupStatus]int, error)

	// Follow-up executions.
	CreateFollowupExecution(e models.FollowupExecution) error
	HasActiveExecution(conversationID string) (bool, error)
	ListExecutionsByConversation(conversationID string) ([]models.FollowupExecution, error)
	ClaimDueExecutions(now time.Time, limit int) ([]models.FollowupExecution, error)
	MarkExecutionSent(id string, message string, now time.Time) error
	FailExecution(id string, errMsg string, maxAttempts int, now time.Time) error
	CancelOpenExecutionsForAgent(agentID string, now time.Time) ([]models.FollowupExecution, error)

	// Append-only history log.
	AppendHistory(h models.FollowupHistory) error
	ListHistoryByConversation(conversationID string) ([]models.FollowupHistory, error)

	// Agents and conversations.
	SaveAgent(a models.Agent) error
	GetAgent(id string) (*models.Agent, error)
	SetAgentPaused(id string, paused bool, now time.Time) error
	SaveConversation(c models.Conversation) error
	GetConversation(id string) (*models.Conversation, error)
	AddConversationMessage(m models.ConversationMessage) error
	GetRecentMessages(conversationID string, limit int) ([]models.ConversationMessage, error)

	Close() error
}
