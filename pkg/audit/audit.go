// Package audit keeps the ledger of admission and execution events.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindInspected  Kind = "inspected"
	KindPromoted   Kind = "promoted"
	KindRejected   Kind = "rejected"
	KindLoaded     Kind = "loaded"
	KindLoadFailed Kind = "load_failed"
	KindInvoked    Kind = "invoked"
)

// Event is one ledger entry.
type Event struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Subject    string         `json:"subject"`
	Digest     string         `json:"digest,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Violations []string       `json:"violations,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewEvent returns an event with a fresh ID and timestamp.
func NewEvent(kind Kind, subject string) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   subject,
		CreatedAt: time.Now().UTC(),
	}
}

// Digest returns the hex sha256 of an artifact.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Store persists audit events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter limits audit event queries.
type Filter struct {
	Kind    Kind
	Subject string
	Since   time.Time
	Limit   int
}

func (f Filter) match(ev Event) bool {
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.Subject != "" && ev.Subject != f.Subject {
		return false
	}
	if !f.Since.IsZero() && ev.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// MemoryStore keeps audit events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an audit event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, normalize(event))
	return nil
}

// List returns filtered audit events in recording order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error           { return nil }
func (Nop) List(context.Context, Filter) ([]Event, error) { return nil, nil }

func normalize(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	return event
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
