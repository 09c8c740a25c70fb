package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/juliahq/followpipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfNilInt converts an optional int to a nullable column value.
func nilIfNilInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// intPtrFromNull converts a nullable column back to an optional int.
func intPtrFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// rowScanner abstracts sql.Row and sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanConfig scans a FollowupConfig row (without steps).
func scanConfig(row rowScanner) (models.FollowupConfig, error) {
	var c models.FollowupConfig
	var from, to sql.NullInt64
	err := row.Scan(
		&c.ID, &c.ClientID, &c.AgentID, &c.Active, &c.AutoMessage,
		&c.StartHours, &c.EndHours, &from, &to, &c.TriggerDelayMinutes,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.FollowupFrom = intPtrFromNull(from)
	c.FollowupTo = intPtrFromNull(to)
	return c, nil
}

// scanStep scans a FollowupStep row.
func scanStep(row rowScanner) (models.FollowupStep, error) {
	var s models.FollowupStep
	var message sql.NullString
	err := row.Scan(&s.ID, &s.ConfigID, &s.StepOrder, &s.Title, &s.IntervalValue, &s.IntervalUnit, &message)
	if err != nil {
		return s, fmt.Errorf("scan step failed: %w", err)
	}
	s.Message = message.String
	return s, nil
}

// scanPreFollowup scans a PreFollowup row.
func scanPreFollowup(row rowScanner) (models.PreFollowup, error) {
	var p models.PreFollowup
	var contactName, reason sql.NullString
	err := row.Scan(
		&p.ID, &p.ConversationID, &p.ClientID, &p.AgentID, &p.RemoteJID,
		&contactName, &p.Status, &reason, &p.CreatedAt, &p.ExpiresAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, fmt.Errorf("scan pre_followup failed: %w", err)
	}
	p.ContactName = contactName.String
	p.CancellationReason = reason.String
	return p, nil
}

// scanExecution scans a FollowupExecution row.
func scanExecution(row rowScanner) (models.FollowupExecution, error) {
	var e models.FollowupExecution
	var message, lastError sql.NullString
	err := row.Scan(
		&e.ID, &e.ConversationID, &e.ConfigID, &e.StepOrder, &e.StepTitle,
		&message, &e.ScheduledAt, &e.Status, &e.Attempts, &lastError,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("scan execution failed: %w", err)
	}
	e.Message = message.String
	e.LastError = lastError.String
	return e, nil
}

// scanHistory scans a FollowupHistory row, decoding the metadata JSON.
func scanHistory(row rowScanner) (models.FollowupHistory, error) {
	var h models.FollowupHistory
	var metadataJSON sql.NullString
	err := row.Scan(&h.ID, &h.ConversationID, &h.EventType, &metadataJSON, &h.CreatedAt)
	if err != nil {
		return h, fmt.Errorf("scan history failed: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &h.Metadata); err != nil {
			return h, fmt.Errorf("decode history metadata failed: %w", err)
		}
	}
	return h, nil
}

// marshalMetadata encodes a history metadata payload for storage.
func marshalMetadata(metadata map[string]interface{}) (interface{}, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode history metadata failed: %w", err)
	}
	return string(b), nil
}
