package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"redscout/internal/model"

	"github.com/google/uuid"
)

// ErrIntegrationNotFound is returned for operations on unknown integration ids
var ErrIntegrationNotFound = errors.New("notify: integration not found")

// maxAuditEntries bounds the audit log; the oldest entry is evicted when a
// new one would exceed the cap.
const maxAuditEntries = 100

type document struct {
	Integrations []model.Integration   `json:"integrations"`
	AuditLog     []model.AuditLogEntry `json:"audit_log"`
}

// FileStore persists integrations and their audit log as a single JSON
// document. It serves the standalone notification path, which has no
// relational database; a mutex serializes all access since delivery
// workers and request handlers share the store.
type FileStore struct {
	path string
	mu   sync.Mutex
	doc  document
}

// NewFileStore opens (or initializes) the store at the given path
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notify: read store: %w", err)
	}
	if err := json.Unmarshal(raw, &s.doc); err != nil {
		return nil, fmt.Errorf("notify: parse store: %w", err)
	}
	return s, nil
}

// persist writes the document out; caller must hold the mutex
func (s *FileStore) persist() error {
	raw, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("notify: encode store: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("notify: write store: %w", err)
	}
	return nil
}

// List returns a copy of all integrations
func (s *FileStore) List() []model.Integration {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Integration, len(s.doc.Integrations))
	copy(out, s.doc.Integrations)
	return out
}

// Get returns the integration with the given id
func (s *FileStore) Get(id string) (model.Integration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range s.doc.Integrations {
		if in.ID == id {
			return in, true
		}
	}
	return model.Integration{}, false
}

// Add persists a new integration
func (s *FileStore) Add(in model.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Integrations = append(s.doc.Integrations, in)
	return s.persist()
}

// Update replaces the stored integration with the same id
func (s *FileStore) Update(in model.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx := range s.doc.Integrations {
		if s.doc.Integrations[idx].ID == in.ID {
			s.doc.Integrations[idx] = in
			return s.persist()
		}
	}
	return ErrIntegrationNotFound
}

// Delete removes the integration with the given id
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx := range s.doc.Integrations {
		if s.doc.Integrations[idx].ID == id {
			s.doc.Integrations = append(s.doc.Integrations[:idx], s.doc.Integrations[idx+1:]...)
			return s.persist()
		}
	}
	return ErrIntegrationNotFound
}

// AppendAudit appends one audit entry, evicting the oldest entries beyond
// the cap. Entries are never mutated once written.
func (s *FileStore) AppendAudit(integrationID, event, detail string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := model.AuditLogEntry{
		ID:            uuid.New().String(),
		IntegrationID: integrationID,
		Event:         event,
		Detail:        truncate(detail, 500),
		Success:       success,
		CreatedAt:     time.Now().UTC(),
	}
	s.doc.AuditLog = append(s.doc.AuditLog, entry)
	if overflow := len(s.doc.AuditLog) - maxAuditEntries; overflow > 0 {
		s.doc.AuditLog = s.doc.AuditLog[overflow:]
	}
	return s.persist()
}

// AuditLog returns a copy of the audit log, oldest first
func (s *FileStore) AuditLog() []model.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.AuditLogEntry, len(s.doc.AuditLog))
	copy(out, s.doc.AuditLog)
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
