package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/hybridlife/internal/cluster"
)

// ErrNotFound is returned when no document exists for a job.
var ErrNotFound = errors.New("document not found")

// keyPrefix namespaces job documents.
const keyPrefix = "jobs/"

// Job states recorded in a Document.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Document is the stored record of one job.
type Document struct {
	Submitted time.Time            `json:"submitted"`
	Finished  time.Time            `json:"finished,omitempty"`
	JobID     string               `json:"job_id"`
	Engine    string               `json:"engine"`
	State     string               `json:"state"`
	Error     string               `json:"error,omitempty"`
	Results   []cluster.SizeResult `json:"results,omitempty"`
	MinPow    int                  `json:"min_pow"`
	MaxPow    int                  `json:"max_pow"`
	Workers   int                  `json:"workers"`
	Lanes     int                  `json:"lanes"`
}

// Key returns the store key of the job's document.
func Key(jobID string) string { return keyPrefix + jobID }

// Store holds job documents. Implementations are safe for concurrent use.
type Store interface {
	// Put creates or replaces the document for doc.JobID.
	Put(doc Document) error
	// Get returns the document for jobID or ErrNotFound.
	Get(jobID string) (Document, error)
	// Delete removes a document; deleting a missing one is not an error.
	Delete(jobID string) error
	// List returns the stored job IDs, sorted.
	List() []string
	Stats() StoreStats
}

// StoreStats describes the store's contents.
type StoreStats struct {
	Documents int `json:"documents"`
	Bytes     int `json:"bytes"`
	Running   int `json:"running"`
	Failed    int `json:"failed"`
}

// MemoryStore keeps documents JSON-encoded in memory, so callers never share
// slices with the store.
type MemoryStore struct {
	data  map[string][]byte
	state map[string]string
	mu    sync.RWMutex
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]byte),
		state: make(map[string]string),
	}
}

func (m *MemoryStore) Put(doc Document) error {
	if doc.JobID == "" {
		return errors.New("document has no job id")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", Key(doc.JobID), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[Key(doc.JobID)] = raw
	m.state[doc.JobID] = doc.State
	return nil
}

func (m *MemoryStore) Get(jobID string) (Document, error) {
	m.mu.RLock()
	raw, ok := m.data[Key(jobID)]
	m.mu.RUnlock()
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", Key(jobID), err)
	}
	return doc, nil
}

func (m *MemoryStore) Delete(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, Key(jobID))
	delete(m.state, jobID)
	return nil
}

func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.data))
	for key := range m.data {
		ids = append(ids, strings.TrimPrefix(key, keyPrefix))
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := StoreStats{Documents: len(m.data)}
	for _, raw := range m.data {
		st.Bytes += len(raw)
	}
	for _, s := range m.state {
		switch s {
		case StateRunning:
			st.Running++
		case StateFailed:
			st.Failed++
		}
	}
	return st
}
