// Package audit provides the best-effort audit sink. A failed audit
// write is downgraded to a warning log and never reaches the caller.
package audit

import (
	"context"
	"time"

	"github.com/closerlabs/convoengine/internal/store"
	"github.com/closerlabs/convoengine/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sink records engine events to the store without ever failing the
// calling turn.
type Sink struct {
	store store.AuditStore
}

// NewSink creates an audit sink over the given store.
func NewSink(s store.AuditStore) *Sink {
	return &Sink{store: s}
}

// Log records an audit event. Fire-and-forget: storage errors and
// panics are swallowed after a warning log.
func (s *Sink) Log(ctx context.Context, sessionID, action string, details map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("action", action).Msg("audit sink panicked")
		}
	}()

	if s == nil || s.store == nil {
		return
	}

	ev := &models.AuditEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Action:    action,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	if err := s.store.InsertAuditEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("action", action).Str("session", sessionID).Msg("audit write failed")
	}
}
