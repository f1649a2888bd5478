// Package store keeps the last-known usage record per account in
// memory for single-account reads between fetch cycles.
package store

import (
	"sync"

	"github.com/usagedeck/usagedeck/internal/models"
)

// MemoryStore is a thread-safe record store. Records are replaced
// wholesale, never mutated in place.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*models.UsageRecord
	accounts models.AccountSlice
}

// NewMemoryStore creates a store over the configured account set.
func NewMemoryStore(accounts models.AccountSlice) *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*models.UsageRecord),
		accounts: accounts,
	}
}

// GetRecord retrieves the last-known record for an account.
func (s *MemoryStore) GetRecord(accountID string) (*models.UsageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[accountID]
	return record, ok
}

// SetRecord stores a record and returns the one it replaced, if any.
// The previous record lets callers detect status transitions.
func (s *MemoryStore) SetRecord(record *models.UsageRecord) *models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.records[record.AccountID]
	s.records[record.AccountID] = record
	return previous
}

// AllRecords returns every stored record.
func (s *MemoryStore) AllRecords() []*models.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.UsageRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	return out
}

// GetAccount looks up a configured account by ID.
func (s *MemoryStore) GetAccount(id string) (*models.Account, bool) {
	return s.accounts.FindByID(id)
}

// Accounts returns the configured account set.
func (s *MemoryStore) Accounts() models.AccountSlice {
	return s.accounts
}
