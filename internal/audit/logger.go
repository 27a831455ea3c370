// Package audit records tenant connection events as JSON lines.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	ActionConnect    = "connect"
	ActionRefresh    = "refresh"
	ActionDisconnect = "disconnect"
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Action    string    `json:"action"`
	TenantID  string    `json:"tenant_id"`
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"` // Error message if the action failed
}

// Logger writes audit events to its own zerolog output.
type Logger struct {
	service string
	mu      sync.Mutex
	out     zerolog.Logger
	now     func() time.Time
}

// New creates a Logger writing to w, stdout when nil.
func New(service string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		service: service,
		out:     zerolog.New(w),
		now:     time.Now,
	}
}

// Log records an audit event. A nil Logger discards it.
func (l *Logger) Log(action, tenantID, details string, err error) {
	if l == nil {
		return
	}
	event := Event{
		Timestamp: l.now().UTC(),
		Service:   l.service,
		Action:    action,
		TenantID:  tenantID,
		Details:   details,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}

	entry, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		log.Error().Err(marshalErr).Msg("Failed to marshal audit event to JSON")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Log().RawJSON("audit_event", entry).Msg("")
}
