// Package store provides the persistence interface and implementations
// for the conversation engine. The in-memory store backs tests and
// zero-config deployments; the PostgreSQL store backs production.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/closerlabs/convoengine/pkg/models"
)

var (
	// ErrNotFound is returned when a session record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an optimistic update lost the
	// race with a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")
)

// VersionCheckOptions bounds the retry loop of an optimistic update.
type VersionCheckOptions struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultVersionCheck is used when the caller passes zero options.
var DefaultVersionCheck = VersionCheckOptions{Attempts: 3, Backoff: 50 * time.Millisecond}

// Store is the storage interface the engine depends on. Engine code
// only sees this interface, so tests swap in the memory implementation.
type Store interface {
	RecordStore
	FactStore
	AuditStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// RecordStore manages per-session context records. Records are never
// deleted by the engine; archival is an external concern.
type RecordStore interface {
	GetRecord(ctx context.Context, sessionID string) (*models.ContextRecord, error)
	CreateRecord(ctx context.Context, rec *models.ContextRecord) error
	UpdateRecord(ctx context.Context, rec *models.ContextRecord) error

	// UpdateRecordWithVersionCheck reloads the record, applies mutate,
	// and writes it back only if the version is unchanged, retrying a
	// bounded number of times on conflict.
	UpdateRecordWithVersionCheck(ctx context.Context, sessionID string, mutate func(*models.ContextRecord) error, opts VersionCheckOptions) error
}

// FactStore persists semantic-memory facts keyed by identity.
type FactStore interface {
	InsertFacts(ctx context.Context, facts []models.Fact) error

	// ListFactsByEmail returns the newest facts for an identity across
	// all sessions, newest first, capped at limit.
	ListFactsByEmail(ctx context.Context, email string, limit int) ([]models.Fact, error)
}

// AuditStore records engine audit events. Writes are best-effort from
// the caller's point of view.
type AuditStore interface {
	InsertAuditEvent(ctx context.Context, ev *models.AuditEvent) error
}
