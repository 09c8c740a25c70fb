// Package store provides storage backends for FollowPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/juliahq/followpipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on top of SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// SaveFollowupConfig upserts the config row and fully replaces its steps in a
// single transaction.
func (s *SQLiteStore) SaveFollowupConfig(cfg models.FollowupConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore SaveFollowupConfig begin failed", "error", err)
		return fmt.Errorf("failed to begin config save: %w", err)
	}
	defer tx.Rollback()

	var configID string
	err = tx.QueryRow(`
		INSERT INTO followup_configs
			(id, client_id, agent_id, active, auto_message, start_hours, end_hours, followup_from, followup_to, trigger_delay_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, agent_id)
		DO UPDATE SET
			active = excluded.active,
			auto_message = excluded.auto_message,
			start_hours = excluded.start_hours,
			end_hours = excluded.end_hours,
			followup_from = excluded.followup_from,
			followup_to = excluded.followup_to,
			trigger_delay_minutes = excluded.trigger_delay_minutes,
			updated_at = excluded.updated_at
		RETURNING id`,
		cfg.ID, cfg.ClientID, cfg.AgentID, cfg.Active, cfg.AutoMessage,
		cfg.StartHours, cfg.EndHours, nilIfNilInt(cfg.FollowupFrom), nilIfNilInt(cfg.FollowupTo),
		cfg.TriggerDelayMinutes, cfg.CreatedAt, cfg.UpdatedAt,
	).Scan(&configID)
	if err != nil {
		slog.Error("SQLiteStore SaveFollowupConfig upsert failed", "error", err, "clientID", cfg.ClientID, "agentID", cfg.AgentID)
		return fmt.Errorf("failed to upsert followup config: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM followup_steps WHERE config_id = ?`, configID); err != nil {
		slog.Error("SQLiteStore SaveFollowupConfig step delete failed", "error", err, "configID", configID)
		return fmt.Errorf("failed to delete prior steps: %w", err)
	}

	for _, step := range cfg.Steps {
		_, err := tx.Exec(`
			INSERT INTO followup_steps (id, config_id, step_order, title, interval_value, interval_unit, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			step.ID, configID, step.StepOrder, step.Title, step.IntervalValue, step.IntervalUnit, nilIfEmpty(step.Message))
		if err != nil {
			slog.Error("SQLiteStore SaveFollowupConfig step insert failed", "error", err, "configID", configID, "stepOrder", step.StepOrder)
			return fmt.Errorf("failed to insert step %d: %w", step.StepOrder, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore SaveFollowupConfig commit failed", "error", err, "configID", configID)
		return fmt.Errorf("failed to commit config save: %w", err)
	}
	slog.Debug("SQLiteStore SaveFollowupConfig succeeded", "configID", configID, "steps", len(cfg.Steps))
	return nil
}

// GetFollowupConfig retrieves one config with its steps, or (nil, nil).
func (s *SQLiteStore) GetFollowupConfig(clientID, agentID string) (*models.FollowupConfig, error) {
	row := s.db.QueryRow(`SELECT `+configColumns+` FROM followup_configs WHERE client_id = ? AND agent_id = ?`, clientID, agentID)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetFollowupConfig not found", "clientID", clientID, "agentID", agentID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFollowupConfig failed", "error", err, "clientID", clientID, "agentID", agentID)
		return nil, fmt.Errorf("failed to get followup config: %w", err)
	}
	if err := s.loadSteps(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListFollowupConfigs retrieves all configs with their steps.
func (s *SQLiteStore) ListFollowupConfigs() ([]models.FollowupConfig, error) {
	rows, err := s.db.Query(`SELECT ` + configColumns + ` FROM followup_configs ORDER BY created_at DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListFollowupConfigs query failed", "error", err)
		return nil, fmt.Errorf("failed to query followup configs: %w", err)
	}
	defer rows.Close()

	var configs []models.FollowupConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			slog.Error("SQLiteStore ListFollowupConfigs scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate config rows: %w", err)
	}
	for i := range configs {
		if err := s.loadSteps(&configs[i]); err != nil {
			return nil, err
		}
	}
	return configs, nil
}

func (s *SQLiteStore) loadSteps(cfg *models.FollowupConfig) error {
	rows, err := s.db.Query(`
		SELECT id, config_id, step_order, title, interval_value, interval_unit, message
		FROM followup_steps WHERE config_id = ? ORDER BY step_order`, cfg.ID)
	if err != nil {
		slog.Error("SQLiteStore loadSteps query failed", "error", err, "configID", cfg.ID)
		return fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	cfg.Steps = nil
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return err
		}
		cfg.Steps = append(cfg.Steps, step)
	}
	return rows.Err()
}

// DeleteFollowupConfig removes a config; its steps cascade.
func (s *SQLiteStore) DeleteFollowupConfig(id string) error {
	_, err := s.db.Exec(`DELETE FROM followup_configs WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteFollowupConfig failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete followup config: %w", err)
	}
	return nil
}

// CreatePreFollowup inserts a staging record.
func (s *SQLiteStore) CreatePreFollowup(p models.PreFollowup) error {
	_, err := s.db.Exec(`
		INSERT INTO pre_followup (id, conversation_id, client_id, agent_id, remote_jid, contact_name, status, cancellation_reason, created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ConversationID, p.ClientID, p.AgentID, p.RemoteJID,
		nilIfEmpty(p.ContactName), p.Status, nilIfEmpty(p.CancellationReason),
		p.CreatedAt, p.ExpiresAt, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreatePreFollowup failed", "error", err, "conversationID", p.ConversationID)
		return fmt.Errorf("failed to insert pre_followup: %w", err)
	}
	return nil
}

// GetPreFollowup retrieves a staging record by id, or (nil, nil).
func (s *SQLiteStore) GetPreFollowup(id string) (*models.PreFollowup, error) {
	row := s.db.QueryRow(`SELECT `+preFollowupColumns+` FROM pre_followup WHERE id = ?`, id)
	p, err := scanPreFollowup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetPreFollowup failed", "error", err, "id", id)
		return nil, err
	}
	return &p, nil
}

// ListPendingPreFollowups retrieves pending staging rows that have not expired.
func (s *SQLiteStore) ListPendingPreFollowups(now time.Time) ([]models.PreFollowup, error) {
	return s.queryPreFollowups(`SELECT `+preFollowupColumns+` FROM pre_followup WHERE status = 'pending' AND expires_at >= ? ORDER BY created_at`, now)
}

// ListExpiredPending retrieves pending staging rows whose expiry has passed.
func (s *SQLiteStore) ListExpiredPending(now time.Time) ([]models.PreFollowup, error) {
	return s.queryPreFollowups(`SELECT `+preFollowupColumns+` FROM pre_followup WHERE status = 'pending' AND expires_at < ? ORDER BY created_at`, now)
}

func (s *SQLiteStore) queryPreFollowups(query string, args ...interface{}) ([]models.PreFollowup, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore pre_followup query failed", "error", err)
		return nil, fmt.Errorf("failed to query pre_followup rows: %w", err)
	}
	defer rows.Close()

	var records []models.PreFollowup
	for rows.Next() {
		p, err := scanPreFollowup(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pre_followup rows: %w", err)
	}
	return records, nil
}

// ExpirePending transitions all overdue pending rows to expired in one UPDATE.
func (s *SQLiteStore) ExpirePending(now time.Time, reason string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE pre_followup SET status = 'expired', cancellation_reason = ?, updated_at = ?
		WHERE status = 'pending' AND expires_at < ?`, reason, now, now)
	if err != nil {
		slog.Error("SQLiteStore ExpirePending failed", "error", err)
		return 0, fmt.Errorf("failed to expire pending pre_followups: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// MarkPreFollowupProcessed transitions a staging record to processed.
func (s *SQLiteStore) MarkPreFollowupProcessed(id string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE pre_followup SET status = 'processed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		slog.Error("SQLiteStore MarkPreFollowupProcessed failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark pre_followup processed: %w", err)
	}
	return nil
}

// DeleteTerminalPreFollowupsBefore hard-deletes processed/expired rows whose
// updated_at is older than cutoff.
func (s *SQLiteStore) DeleteTerminalPreFollowupsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM pre_followup WHERE status IN ('processed', 'expired') AND updated_at < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore DeleteTerminalPreFollowupsBefore failed", "error", err)
		return 0, fmt.Errorf("failed to delete terminal pre_followups: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// CountPreFollowupsByStatus returns the present-state histogram for observability.
func (s *SQLiteStore) CountPreFollowupsByStatus() (map[models.PreFollowupStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM pre_followup GROUP BY status`)
	if err != nil {
		slog.Error("SQLiteStore CountPreFollowupsByStatus failed", "error", err)
		return nil, fmt.Errorf("failed to count pre_followups: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.PreFollowupStatus]int)
	for rows.Next() {
		var status models.PreFollowupStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// CreateFollowupExecution inserts a scheduled send attempt.
func (s *SQLiteStore) CreateFollowupExecution(e models.FollowupExecution) error {
	_, err := s.db.Exec(`
		INSERT INTO followup_executions (id, conversation_id, config_id, step_order, step_title, message, scheduled_at, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConversationID, e.ConfigID, e.StepOrder, e.StepTitle,
		nilIfEmpty(e.Message), e.ScheduledAt, e.Status, e.Attempts, nilIfEmpty(e.LastError),
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateFollowupExecution failed", "error", err, "conversationID", e.ConversationID)
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// HasActiveExecution reports whether a scheduled/pending/sent execution exists
// for the conversation.
func (s *SQLiteStore) HasActiveExecution(conversationID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM followup_executions WHERE conversation_id = ? AND status IN ('scheduled', 'pending', 'sent'))`,
		conversationID).Scan(&exists)
	if err != nil {
		slog.Error("SQLiteStore HasActiveExecution failed", "error", err, "conversationID", conversationID)
		return false, fmt.Errorf("failed to check active executions: %w", err)
	}
	return exists, nil
}

// ListExecutionsByConversation retrieves all executions for a conversation.
func (s *SQLiteStore) ListExecutionsByConversation(conversationID string) ([]models.FollowupExecution, error) {
	rows, err := s.db.Query(`SELECT `+executionColumns+` FROM followup_executions WHERE conversation_id = ? ORDER BY scheduled_at`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore ListExecutionsByConversation failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// ClaimDueExecutions atomically moves due scheduled executions to pending and
// returns them. SQLite serializes writers, so no row locking hints are needed.
func (s *SQLiteStore) ClaimDueExecutions(now time.Time, limit int) ([]models.FollowupExecution, error) {
	rows, err := s.db.Query(`
		UPDATE followup_executions SET status = 'pending', updated_at = ?
		WHERE id IN (
			SELECT id FROM followup_executions
			WHERE status = 'scheduled' AND scheduled_at <= ?
			ORDER BY scheduled_at
			LIMIT ?
		)
		RETURNING `+executionColumns, now, now, limit)
	if err != nil {
		slog.Error("SQLiteStore ClaimDueExecutions failed", "error", err)
		return nil, fmt.Errorf("failed to claim due executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// MarkExecutionSent records a successful delivery and the final message text.
func (s *SQLiteStore) MarkExecutionSent(id string, message string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE followup_executions SET status = 'sent', message = ?, updated_at = ? WHERE id = ?`,
		nilIfEmpty(message), now, id)
	if err != nil {
		slog.Error("SQLiteStore MarkExecutionSent failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark execution sent: %w", err)
	}
	return nil
}

// FailExecution increments the attempt counter and either requeues the
// execution or marks it failed once the attempt cap is reached.
func (s *SQLiteStore) FailExecution(id string, errMsg string, maxAttempts int, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE followup_executions SET
			attempts = attempts + 1,
			last_error = ?,
			status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'scheduled' END,
			updated_at = ?
		WHERE id = ?`, errMsg, maxAttempts, now, id)
	if err != nil {
		slog.Error("SQLiteStore FailExecution failed", "error", err, "id", id)
		return fmt.Errorf("failed to record execution failure: %w", err)
	}
	return nil
}

// CancelOpenExecutionsForAgent cancels all scheduled/pending executions of the
// agent's conversations and returns the cancelled rows.
func (s *SQLiteStore) CancelOpenExecutionsForAgent(agentID string, now time.Time) ([]models.FollowupExecution, error) {
	rows, err := s.db.Query(`
		UPDATE followup_executions SET status = 'cancelled', updated_at = ?
		WHERE status IN ('scheduled', 'pending')
		AND conversation_id IN (SELECT id FROM conversations WHERE agent_id = ?)
		RETURNING `+executionColumns, now, agentID)
	if err != nil {
		slog.Error("SQLiteStore CancelOpenExecutionsForAgent failed", "error", err, "agentID", agentID)
		return nil, fmt.Errorf("failed to cancel executions for agent %s: %w", agentID, err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// AppendHistory inserts an immutable history event.
func (s *SQLiteStore) AppendHistory(h models.FollowupHistory) error {
	metadata, err := marshalMetadata(h.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO followup_history (id, conversation_id, event_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.ConversationID, h.EventType, metadata, h.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AppendHistory failed", "error", err, "conversationID", h.ConversationID, "eventType", h.EventType)
		return fmt.Errorf("failed to append history event: %w", err)
	}
	return nil
}

// ListHistoryByConversation retrieves all history events for a conversation.
func (s *SQLiteStore) ListHistoryByConversation(conversationID string) ([]models.FollowupHistory, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, event_type, metadata, created_at
		FROM followup_history WHERE conversation_id = ? ORDER BY created_at`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore ListHistoryByConversation failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var events []models.FollowupHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, h)
	}
	return events, rows.Err()
}

// SaveAgent stores or updates an agent.
func (s *SQLiteStore) SaveAgent(a models.Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, client_id, name, bio, custom_instructions, paused, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			name = excluded.name,
			bio = excluded.bio,
			custom_instructions = excluded.custom_instructions,
			paused = excluded.paused,
			updated_at = excluded.updated_at`,
		a.ID, a.ClientID, a.Name, nilIfEmpty(a.Bio), nilIfEmpty(a.CustomInstructions), a.Paused, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveAgent failed", "error", err, "id", a.ID)
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by id, or (nil, nil).
func (s *SQLiteStore) GetAgent(id string) (*models.Agent, error) {
	var a models.Agent
	var bio, instructions sql.NullString
	err := s.db.QueryRow(`
		SELECT id, client_id, name, bio, custom_instructions, paused, created_at, updated_at
		FROM agents WHERE id = ?`, id).Scan(
		&a.ID, &a.ClientID, &a.Name, &bio, &instructions, &a.Paused, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetAgent failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	a.Bio = bio.String
	a.CustomInstructions = instructions.String
	return &a, nil
}

// SetAgentPaused flips an agent's global pause flag.
func (s *SQLiteStore) SetAgentPaused(id string, paused bool, now time.Time) error {
	_, err := s.db.Exec(`UPDATE agents SET paused = ?, updated_at = ? WHERE id = ?`, paused, now, id)
	if err != nil {
		slog.Error("SQLiteStore SetAgentPaused failed", "error", err, "id", id)
		return fmt.Errorf("failed to set agent paused: %w", err)
	}
	return nil
}

// SaveConversation stores or updates a conversation.
func (s *SQLiteStore) SaveConversation(c models.Conversation) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, client_id, agent_id, remote_jid, contact_name, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			contact_name = excluded.contact_name,
			last_message_at = excluded.last_message_at`,
		c.ID, c.ClientID, c.AgentID, c.RemoteJID, nilIfEmpty(c.ContactName), c.LastMessageAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id, or (nil, nil).
func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	var c models.Conversation
	var contactName sql.NullString
	err := s.db.QueryRow(`
		SELECT id, client_id, agent_id, remote_jid, contact_name, last_message_at
		FROM conversations WHERE id = ?`, id).Scan(
		&c.ID, &c.ClientID, &c.AgentID, &c.RemoteJID, &contactName, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	c.ContactName = contactName.String
	return &c, nil
}

// AddConversationMessage appends a message to a conversation transcript.
func (s *SQLiteStore) AddConversationMessage(m models.ConversationMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddConversationMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert conversation message: %w", err)
	}
	return nil
}

// GetRecentMessages retrieves the last limit messages of a conversation in
// chronological (oldest first) order.
func (s *SQLiteStore) GetRecentMessages(conversationID string, limit int) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, created_at FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM conversation_messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		) ORDER BY created_at`, conversationID, limit)
	if err != nil {
		slog.Error("SQLiteStore GetRecentMessages failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
