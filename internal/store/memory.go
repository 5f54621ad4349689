package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/closerlabs/convoengine/pkg/models"
)

// MemoryStore is a thread-safe in-memory Store implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.ContextRecord // key: session ID
	facts   []models.Fact
	audits  []models.AuditEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.ContextRecord),
	}
}

// ── Record Store ────────────────────────────────────────────

func (s *MemoryStore) GetRecord(_ context.Context, sessionID string) (*models.ContextRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) CreateRecord(_ context.Context, rec *models.ContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.SessionID]; exists {
		return fmt.Errorf("session %s already exists", rec.SessionID)
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Version == 0 {
		rec.Version = 1
	}
	cp := *rec
	s.records[rec.SessionID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRecord(_ context.Context, rec *models.ContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.SessionID]; !exists {
		return fmt.Errorf("session %s: %w", rec.SessionID, ErrNotFound)
	}
	rec.UpdatedAt = time.Now().UTC()
	rec.Version++
	cp := *rec
	s.records[rec.SessionID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRecordWithVersionCheck(ctx context.Context, sessionID string, mutate func(*models.ContextRecord) error, opts VersionCheckOptions) error {
	if opts.Attempts <= 0 {
		opts = DefaultVersionCheck
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		rec, err := s.GetRecord(ctx, sessionID)
		if err != nil {
			return err
		}
		expected := rec.Version

		if err := mutate(rec); err != nil {
			return fmt.Errorf("mutate record: %w", err)
		}

		if err := s.compareAndSwap(rec, expected); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if opts.Backoff > 0 && attempt < opts.Attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Backoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("session %s after %d attempts: %w", sessionID, opts.Attempts, lastErr)
}

func (s *MemoryStore) compareAndSwap(rec *models.ContextRecord, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[rec.SessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", rec.SessionID, ErrNotFound)
	}
	if current.Version != expected {
		return ErrVersionConflict
	}
	rec.Version = expected + 1
	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	s.records[rec.SessionID] = &cp
	return nil
}

// ── Fact Store ──────────────────────────────────────────────

func (s *MemoryStore) InsertFacts(_ context.Context, facts []models.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, f := range facts {
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		s.facts = append(s.facts, f)
	}
	return nil
}

func (s *MemoryStore) ListFactsByEmail(_ context.Context, email string, limit int) ([]models.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Fact
	for _, f := range s.facts {
		if f.Email == email {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Audit Store ─────────────────────────────────────────────

func (s *MemoryStore) InsertAuditEvent(_ context.Context, ev *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audits = append(s.audits, *ev)
	return nil
}

// AuditEvents returns a copy of recorded events. Test helper.
func (s *MemoryStore) AuditEvents() []models.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AuditEvent, len(s.audits))
	copy(out, s.audits)
	return out
}

// ── Lifecycle ───────────────────────────────────────────────

func (s *MemoryStore) Ping(_ context.Context) error { return nil }
func (s *MemoryStore) Close() error                 { return nil }
