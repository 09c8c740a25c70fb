// Package store provides storage backends for FollowPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/juliahq/followpipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on top of PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure the follow-up tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}

// SaveFollowupConfig upserts the config row and fully replaces its steps in a
// single transaction. Step order is taken from the step structs as provided;
// callers assign it from array position.
func (s *PostgresStore) SaveFollowupConfig(cfg models.FollowupConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore SaveFollowupConfig begin failed", "error", err)
		return fmt.Errorf("failed to begin config save: %w", err)
	}
	defer tx.Rollback()

	// Upsert keeps the existing row id on conflict so step ownership survives
	// re-saves from a client that does not echo the id back.
	var configID string
	err = tx.QueryRow(`
		INSERT INTO followup_configs
			(id, client_id, agent_id, active, auto_message, start_hours, end_hours, followup_from, followup_to, trigger_delay_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (client_id, agent_id)
		DO UPDATE SET
			active = EXCLUDED.active,
			auto_message = EXCLUDED.auto_message,
			start_hours = EXCLUDED.start_hours,
			end_hours = EXCLUDED.end_hours,
			followup_from = EXCLUDED.followup_from,
			followup_to = EXCLUDED.followup_to,
			trigger_delay_minutes = EXCLUDED.trigger_delay_minutes,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		cfg.ID, cfg.ClientID, cfg.AgentID, cfg.Active, cfg.AutoMessage,
		cfg.StartHours, cfg.EndHours, nilIfNilInt(cfg.FollowupFrom), nilIfNilInt(cfg.FollowupTo),
		cfg.TriggerDelayMinutes, cfg.CreatedAt, cfg.UpdatedAt,
	).Scan(&configID)
	if err != nil {
		slog.Error("PostgresStore SaveFollowupConfig upsert failed", "error", err, "clientID", cfg.ClientID, "agentID", cfg.AgentID)
		return fmt.Errorf("failed to upsert followup config: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM followup_steps WHERE config_id = $1`, configID); err != nil {
		slog.Error("PostgresStore SaveFollowupConfig step delete failed", "error", err, "configID", configID)
		return fmt.Errorf("failed to delete prior steps: %w", err)
	}

	for _, step := range cfg.Steps {
		_, err := tx.Exec(`
			INSERT INTO followup_steps (id, config_id, step_order, title, interval_value, interval_unit, message)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			step.ID, configID, step.StepOrder, step.Title, step.IntervalValue, step.IntervalUnit, nilIfEmpty(step.Message))
		if err != nil {
			slog.Error("PostgresStore SaveFollowupConfig step insert failed", "error", err, "configID", configID, "stepOrder", step.StepOrder)
			return fmt.Errorf("failed to insert step %d: %w", step.StepOrder, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore SaveFollowupConfig commit failed", "error", err, "configID", configID)
		return fmt.Errorf("failed to commit config save: %w", err)
	}
	slog.Debug("PostgresStore SaveFollowupConfig succeeded", "configID", configID, "steps", len(cfg.Steps))
	return nil
}

const configColumns = `id, client_id, agent_id, active, auto_message, start_hours, end_hours, followup_from, followup_to, trigger_delay_minutes, created_at, updated_at`

// GetFollowupConfig retrieves one config with its steps, or (nil, nil).
func (s *PostgresStore) GetFollowupConfig(clientID, agentID string) (*models.FollowupConfig, error) {
	row := s.db.QueryRow(`SELECT `+configColumns+` FROM followup_configs WHERE client_id = $1 AND agent_id = $2`, clientID, agentID)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetFollowupConfig not found", "clientID", clientID, "agentID", agentID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFollowupConfig failed", "error", err, "clientID", clientID, "agentID", agentID)
		return nil, fmt.Errorf("failed to get followup config: %w", err)
	}
	if err := s.loadSteps(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListFollowupConfigs retrieves all configs with their steps.
func (s *PostgresStore) ListFollowupConfigs() ([]models.FollowupConfig, error) {
	rows, err := s.db.Query(`SELECT ` + configColumns + ` FROM followup_configs ORDER BY created_at DESC`)
	if err != nil {
		slog.Error("PostgresStore ListFollowupConfigs query failed", "error", err)
		return nil, fmt.Errorf("failed to query followup configs: %w", err)
	}
	defer rows.Close()

	var configs []models.FollowupConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			slog.Error("PostgresStore ListFollowupConfigs scan failed", "error", err)
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
	slog.Debug("PostgresStore ListFollowupConfigs succeeded", "count", len(configs))
	return configs, nil
}

// loadSteps fills in a config's ordered step list.
func (s *PostgresStore) loadSteps(cfg *models.FollowupConfig) error {
	rows, err := s.db.Query(`
		SELECT id, config_id, step_order, title, interval_value, interval_unit, message
		FROM followup_steps WHERE config_id = $1 ORDER BY step_order`, cfg.ID)
	if err != nil {
		slog.Error("PostgresStore loadSteps query failed", "error", err, "configID", cfg.ID)
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
func (s *PostgresStore) DeleteFollowupConfig(id string) error {
	_, err := s.db.Exec(`DELETE FROM followup_configs WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteFollowupConfig failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete followup config: %w", err)
	}
	slog.Debug("PostgresStore DeleteFollowupConfig succeeded", "id", id)
	return nil
}

// CreatePreFollowup inserts a staging record.
func (s *PostgresStore) CreatePreFollowup(p models.PreFollowup) error {
	_, err := s.db.Exec(`
		INSERT INTO pre_followup (id, conversation_id, client_id, agent_id, remote_jid, contact_name, status, cancellation_reason, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.ConversationID, p.ClientID, p.AgentID, p.RemoteJID,
		nilIfEmpty(p.ContactName), p.Status, nilIfEmpty(p.CancellationReason),
		p.CreatedAt, p.ExpiresAt, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreatePreFollowup failed", "error", err, "conversationID", p.ConversationID)
		return fmt.Errorf("failed to insert pre_followup: %w", err)
	}
	slog.Debug("PostgresStore CreatePreFollowup succeeded", "id", p.ID, "conversationID", p.ConversationID)
	return nil
}

const preFollowupColumns = `id, conversation_id, client_id, agent_id, remote_jid, contact_name, status, cancellation_reason, created_at, expires_at, updated_at`

// GetPreFollowup retrieves a staging record by id, or (nil, nil).
func (s *PostgresStore) GetPreFollowup(id string) (*models.PreFollowup, error) {
	row := s.db.QueryRow(`SELECT `+preFollowupColumns+` FROM pre_followup WHERE id = $1`, id)
	p, err := scanPreFollowup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetPreFollowup failed", "error", err, "id", id)
		return nil, err
	}
	return &p, nil
}

// ListPendingPreFollowups retrieves pending staging rows that have not expired.
func (s *PostgresStore) ListPendingPreFollowups(now time.Time) ([]models.PreFollowup, error) {
	return s.queryPreFollowups(`SELECT `+preFollowupColumns+` FROM pre_followup WHERE status = 'pending' AND expires_at >= $1 ORDER BY created_at`, now)
}

// ListExpiredPending retrieves pending staging rows whose expiry has passed.
func (s *PostgresStore) ListExpiredPending(now time.Time) ([]models.PreFollowup, error) {
	return s.queryPreFollowups(`SELECT `+preFollowupColumns+` FROM pre_followup WHERE status = 'pending' AND expires_at < $1 ORDER BY created_at`, now)
}

func (s *PostgresStore) queryPreFollowups(query string, args ...interface{}) ([]models.PreFollowup, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore pre_followup query failed", "error", err)
		return nil, fmt.Errorf("failed to query pre_followup rows: %w", err)
	}
	defer rows.Close()

	var records []models.PreFollowup
	for rows.Next() {
		p, err := scanPreFollowup(rows)
		if err != nil {
			slog.Error("PostgresStore pre_followup scan failed", "error", err)
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
func (s *PostgresStore) ExpirePending(now time.Time, reason string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE pre_followup SET status = 'expired', cancellation_reason = $1, updated_at = $2
		WHERE status = 'pending' AND expires_at < $2`, reason, now)
	if err != nil {
		slog.Error("PostgresStore ExpirePending failed", "error", err)
		return 0, fmt.Errorf("failed to expire pending pre_followups: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	slog.Debug("PostgresStore ExpirePending succeeded", "count", n)
	return int(n), nil
}

// MarkPreFollowupProcessed transitions a staging record to processed.
func (s *PostgresStore) MarkPreFollowupProcessed(id string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE pre_followup SET status = 'processed', updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		slog.Error("PostgresStore MarkPreFollowupProcessed failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark pre_followup processed: %w", err)
	}
	return nil
}

// DeleteTerminalPreFollowupsBefore hard-deletes processed/expired rows whose
// updated_at is older than cutoff. The 24h retention policy lives in the sweep.
func (s *PostgresStore) DeleteTerminalPreFollowupsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM pre_followup WHERE status IN ('processed', 'expired') AND updated_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore DeleteTerminalPreFollowupsBefore failed", "error", err)
		return 0, fmt.Errorf("failed to delete terminal pre_followups: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	slog.Debug("PostgresStore DeleteTerminalPreFollowupsBefore succeeded", "count", n)
	return int(n), nil
}

// CountPreFollowupsByStatus returns the present-state histogram for observability.
func (s *PostgresStore) CountPreFollowupsByStatus() (map[models.PreFollowupStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM pre_followup GROUP BY status`)
	if err != nil {
		slog.Error("PostgresStore CountPreFollowupsByStatus failed", "error", err)
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

const executionColumns = `id, conversation_id, config_id, step_order, step_title, message, scheduled_at, status, attempts, last_error, created_at, updated_at`

// CreateFollowupExecution inserts a scheduled send attempt.
func (s *PostgresStore) CreateFollowupExecution(e models.FollowupExecution) error {
	_, err := s.db.Exec(`
		INSERT INTO followup_executions (id, conversation_id, config_id, step_order, step_title, message, scheduled_at, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.ConversationID, e.ConfigID, e.StepOrder, e.StepTitle,
		nilIfEmpty(e.Message), e.ScheduledAt, e.Status, e.Attempts, nilIfEmpty(e.LastError),
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateFollowupExecution failed", "error", err, "conversationID", e.ConversationID)
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	slog.Debug("PostgresStore CreateFollowupExecution succeeded", "id", e.ID, "stepOrder", e.StepOrder)
	return nil
}

// HasActiveExecution reports whether a scheduled/pending/sent execution exists
// for the conversation.
func (s *PostgresStore) HasActiveExecution(conversationID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM followup_executions WHERE conversation_id = $1 AND status IN ('scheduled', 'pending', 'sent'))`,
		conversationID).Scan(&exists)
	if err != nil {
		slog.Error("PostgresStore HasActiveExecution failed", "error", err, "conversationID", conversationID)
		return false, fmt.Errorf("failed to check active executions: %w", err)
	}
	return exists, nil
}

// ListExecutionsByConversation retrieves all executions for a conversation.
func (s *PostgresStore) ListExecutionsByConversation(conversationID string) ([]models.FollowupExecution, error) {
	rows, err := s.db.Query(`SELECT `+executionColumns+` FROM followup_executions WHERE conversation_id = $1 ORDER BY scheduled_at`, conversationID)
	if err != nil {
		slog.Error("PostgresStore ListExecutionsByConversation failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// ClaimDueExecutions atomically moves due scheduled executions to pending and
// returns them. Concurrent pollers skip rows another claim already locked.
func (s *PostgresStore) ClaimDueExecutions(now time.Time, limit int) ([]models.FollowupExecution, error) {
	rows, err := s.db.Query(`
		UPDATE followup_executions SET status = 'pending', updated_at = $1
		WHERE id IN (
			SELECT id FROM followup_executions
			WHERE status = 'scheduled' AND scheduled_at <= $1
			ORDER BY scheduled_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+executionColumns, now, limit)
	if err != nil {
		slog.Error("PostgresStore ClaimDueExecutions failed", "error", err)
		return nil, fmt.Errorf("failed to claim due executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// MarkExecutionSent records a successful delivery and the final message text.
func (s *PostgresStore) MarkExecutionSent(id string, message string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE followup_executions SET status = 'sent', message = $2, updated_at = $3 WHERE id = $1`,
		id, nilIfEmpty(message), now)
	if err != nil {
		slog.Error("PostgresStore MarkExecutionSent failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark execution sent: %w", err)
	}
	return nil
}

// FailExecution increments the attempt counter and either requeues the
// execution or marks it failed once the attempt cap is reached.
func (s *PostgresStore) FailExecution(id string, errMsg string, maxAttempts int, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE followup_executions SET
			attempts = attempts + 1,
			last_error = $2,
			status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'scheduled' END,
			updated_at = $4
		WHERE id = $1`, id, errMsg, maxAttempts, now)
	if err != nil {
		slog.Error("PostgresStore FailExecution failed", "error", err, "id", id)
		return fmt.Errorf("failed to record execution failure: %w", err)
	}
	return nil
}

// CancelOpenExecutionsForAgent cancels all scheduled/pending executions of the
// agent's conversations and returns the cancelled rows so callers can write
// per-execution history events.
func (s *PostgresStore) CancelOpenExecutionsForAgent(agentID string, now time.Time) ([]models.FollowupExecution, error) {
	rows, err := s.db.Query(`
		UPDATE followup_executions SET status = 'cancelled', updated_at = $2
		WHERE status IN ('scheduled', 'pending')
		AND conversation_id IN (SELECT id FROM conversations WHERE agent_id = $1)
		RETURNING `+executionColumns, agentID, now)
	if err != nil {
		slog.Error("PostgresStore CancelOpenExecutionsForAgent failed", "error", err, "agentID", agentID)
		return nil, fmt.Errorf("failed to cancel executions for agent %s: %w", agentID, err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func collectExecutions(rows *sql.Rows) ([]models.FollowupExecution, error) {
	var executions []models.FollowupExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution rows: %w", err)
	}
	return executions, nil
}

// AppendHistory inserts an immutable history event.
func (s *PostgresStore) AppendHistory(h models.FollowupHistory) error {
	metadata, err := marshalMetadata(h.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO followup_history (id, conversation_id, event_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		h.ID, h.ConversationID, h.EventType, metadata, h.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AppendHistory failed", "error", err, "conversationID", h.ConversationID, "eventType", h.EventType)
		return fmt.Errorf("failed to append history event: %w", err)
	}
	slog.Debug("PostgresStore AppendHistory succeeded", "conversationID", h.ConversationID, "eventType", h.EventType)
	return nil
}

// ListHistoryByConversation retrieves all history events for a conversation.
func (s *PostgresStore) ListHistoryByConversation(conversationID string) ([]models.FollowupHistory, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, event_type, metadata, created_at
		FROM followup_history WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		slog.Error("PostgresStore ListHistoryByConversation failed", "error", err, "conversationID", conversationID)
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
func (s *PostgresStore) SaveAgent(a models.Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, client_id, name, bio, custom_instructions, paused, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			name = EXCLUDED.name,
			bio = EXCLUDED.bio,
			custom_instructions = EXCLUDED.custom_instructions,
			paused = EXCLUDED.paused,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.ClientID, a.Name, nilIfEmpty(a.Bio), nilIfEmpty(a.CustomInstructions), a.Paused, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveAgent failed", "error", err, "id", a.ID)
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by id, or (nil, nil).
func (s *PostgresStore) GetAgent(id string) (*models.Agent, error) {
	var a models.Agent
	var bio, instructions sql.NullString
	err := s.db.QueryRow(`
		SELECT id, client_id, name, bio, custom_instructions, paused, created_at, updated_at
		FROM agents WHERE id = $1`, id).Scan(
		&a.ID, &a.ClientID, &a.Name, &bio, &instructions, &a.Paused, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetAgent not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetAgent failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	a.Bio = bio.String
	a.CustomInstructions = instructions.String
	return &a, nil
}

// SetAgentPaused flips an agent's global pause flag.
func (s *PostgresStore) SetAgentPaused(id string, paused bool, now time.Time) error {
	_, err := s.db.Exec(`UPDATE agents SET paused = $2, updated_at = $3 WHERE id = $1`, id, paused, now)
	if err != nil {
		slog.Error("PostgresStore SetAgentPaused failed", "error", err, "id", id)
		return fmt.Errorf("failed to set agent paused: %w", err)
	}
	slog.Debug("PostgresStore SetAgentPaused succeeded", "id", id, "paused", paused)
	return nil
}

// SaveConversation stores or updates a conversation.
func (s *PostgresStore) SaveConversation(c models.Conversation) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, client_id, agent_id, remote_jid, contact_name, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			contact_name = EXCLUDED.contact_name,
			last_message_at = EXCLUDED.last_message_at`,
		c.ID, c.ClientID, c.AgentID, c.RemoteJID, nilIfEmpty(c.ContactName), c.LastMessageAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id, or (nil, nil).
func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	var c models.Conversation
	var contactName sql.NullString
	err := s.db.QueryRow(`
		SELECT id, client_id, agent_id, remote_jid, contact_name, last_message_at
		FROM conversations WHERE id = $1`, id).Scan(
		&c.ID, &c.ClientID, &c.AgentID, &c.RemoteJID, &contactName, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	c.ContactName = contactName.String
	return &c, nil
}

// AddConversationMessage appends a message to a conversation transcript.
func (s *PostgresStore) AddConversationMessage(m models.ConversationMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddConversationMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert conversation message: %w", err)
	}
	return nil
}

// GetRecentMessages retrieves the last limit messages of a conversation in
// chronological (oldest first) order.
func (s *PostgresStore) GetRecentMessages(conversationID string, limit int) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, created_at FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at`, conversationID, limit)
	if err != nil {
		slog.Error("PostgresStore GetRecentMessages failed", "error", err, "conversationID", conversationID)
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
