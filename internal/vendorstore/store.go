// Package vendorstore holds the vendor records a payment query retrieves
// against. The store is append-only: records get a monotonically increasing
// id at insert and are never mutated or deleted. Duplicate names are
// tolerated on purpose; the poisoning attack this system demonstrates
// depends on a second record carrying a legitimate vendor's name.
package vendorstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// VendorRecord is a single vendor entry.
type VendorRecord struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	Notes     string `json:"notes"`
}

// Store is an append-only arena of vendor records. Inserts are serialized
// with a mutex; reads copy the backing slice so callers never observe a
// concurrent append.
type Store struct {
	mu      sync.Mutex
	records []VendorRecord
	nextID  int64
	path    string // snapshot file, empty = in-memory only
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{nextID: 1}
}

// snapshot is the on-disk shape: {"vendors": [...]}.
type snapshot struct {
	Vendors []VendorRecord `json:"vendors"`
}

// Load reads a vendor snapshot from path and returns a store that writes
// back to the same file on every insert. A missing file yields an empty
// persistent store.
func Load(path string) (*Store, error) {
	s := New()
	s.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read vendor store %s: %w", path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode vendor store %s: %w", path, err)
	}

	for _, rec := range snap.Vendors {
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}
		s.records = append(s.records, rec)
	}
	return s, nil
}

// Insert appends a new record and returns its assigned id. Content is never
// inspected or rejected here; that is the point of the exercise. A storage
// failure is fatal and propagated, never retried.
func (s *Store) Insert(name, accountID, notes string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := VendorRecord{
		ID:        s.nextID,
		Name:      name,
		AccountID: accountID,
		Notes:     notes,
	}
	s.records = append(s.records, rec)
	s.nextID++

	if s.path != "" {
		if err := s.saveLocked(); err != nil {
			// Roll the in-memory append back so memory and disk agree.
			s.records = s.records[:len(s.records)-1]
			s.nextID--
			return 0, err
		}
	}

	return rec.ID, nil
}

// All returns every record in insertion order.
func (s *Store) All() []VendorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]VendorRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ByID returns the record with the given id, if present.
func (s *Store) ByID(id int64) (VendorRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return VendorRecord{}, false
}

func (s *Store) saveLocked() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(snapshot{Vendors: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vendor store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write vendor store %s: %w", s.path, err)
	}
	return nil
}
