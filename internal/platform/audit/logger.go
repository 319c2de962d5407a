package audit

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event is one recorded security or administrative action. Denial subcases
// never reach the network caller, so this trail is where operators see them.
type Event struct {
	ID           string `json:"id"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Detail       string `json:"detail,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

type Logger struct {
	db *sql.DB
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

// Record persists one event. Failures are logged and swallowed; the audit
// trail must never fail a request.
func (l *Logger) Record(action, resourceType, resourceID, detail, ip string) {
	event := &Event{
		ID:           "audit_" + uuid.New().String(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Detail:       detail,
		IPAddress:    ip,
		CreatedAt:    time.Now().Unix(),
	}

	_, err := l.db.Exec(
		`INSERT INTO audit_log (id, action, resource_type, resource_id, detail, ip_address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Action, event.ResourceType, event.ResourceID, event.Detail, event.IPAddress, event.CreatedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("audit write failed")
	}
}

func (l *Logger) Recent(limit int) ([]*Event, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	rows, err := l.db.Query(
		`SELECT id, action, resource_type, resource_id, detail, ip_address, created_at
		 FROM audit_log ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Detail, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
