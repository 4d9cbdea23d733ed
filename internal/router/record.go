// Package router chains the resolution tiers: semantic cache, specialized
// text-to-SQL, and general LLM fallback. Every question produces a tracked
// query record regardless of which tier answered it.
package router

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VelocityFibre/ff-agent/internal/classifier"
)

var (
	// ErrRecordNotFound indicates the query record ID is unknown.
	ErrRecordNotFound = errors.New("query record not found")

	// ErrOutcomeAlreadySet indicates a record's outcome was already decided.
	ErrOutcomeAlreadySet = errors.New("query record outcome already set")
)

// State tracks a query's progress through the tier chain.
type State string

const (
	StateReceived     State = "received"
	StateClassified   State = "classified"
	StateCacheChecked State = "cache_checked"

	StateResolvedCache         State = "resolved_cache"
	StateResolvedSpecialized   State = "resolved_specialized"
	StateResolvedGeneral       State = "resolved_general"
	StateResolvedLowConfidence State = "resolved_low_confidence"
)

// Resolved reports whether the state is terminal.
func (s State) Resolved() bool {
	switch s {
	case StateResolvedCache, StateResolvedSpecialized, StateResolvedGeneral, StateResolvedLowConfidence:
		return true
	}
	return false
}

// Tier names which layer produced the answer.
type Tier string

const (
	TierCache       Tier = "cache"
	TierSpecialized Tier = "specialized"
	TierGeneral     Tier = "general"
	TierNone        Tier = "none"
)

// Outcome is the feedback verdict attached to a record.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// QueryRecord is the durable trace of one resolution.
type QueryRecord struct {
	ID       string `json:"id"`
	Question string `json:"question"`

	// PatternKey is the canonical question of the cache entry that produced
	// or informed the answer. Feedback uses it to credit the right pattern.
	PatternKey string `json:"pattern_key,omitempty"`

	Tier           Tier              `json:"tier"`
	State          State             `json:"state"`
	Confidence     float64           `json:"confidence"`
	Artifact       string            `json:"artifact"`
	Explanation    string            `json:"explanation,omitempty"`
	Classification classifier.Result `json:"classification"`
	Outcome        Outcome           `json:"outcome"`
	CacheSkipped   bool              `json:"cache_skipped,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Duration       time.Duration     `json:"duration"`
}

// newQueryRecord starts a record in the received state.
func newQueryRecord(question string) *QueryRecord {
	return &QueryRecord{
		ID:        uuid.NewString(),
		Question:  question,
		Tier:      TierNone,
		State:     StateReceived,
		Outcome:   OutcomePending,
		CreatedAt: time.Now(),
	}
}

// RecordStore keeps recent query records in memory, bounded by capacity.
// The oldest records are evicted first.
type RecordStore struct {
	mu       sync.RWMutex
	capacity int
	byID     map[string]*list.Element
	order    *list.List
}

// NewRecordStore creates a record store holding up to capacity records.
func NewRecordStore(capacity int) *RecordStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &RecordStore{
		capacity: capacity,
		byID:     make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (r *RecordStore) put(record *QueryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.order.Len() >= r.capacity {
		oldest := r.order.Front()
		if oldest != nil {
			r.order.Remove(oldest)
			delete(r.byID, oldest.Value.(*QueryRecord).ID)
		}
	}
	r.byID[record.ID] = r.order.PushBack(record)
}

// Get returns a copy of the record with the given ID.
func (r *RecordStore) Get(id string) (QueryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	elem, ok := r.byID[id]
	if !ok {
		return QueryRecord{}, ErrRecordNotFound
	}
	return *elem.Value.(*QueryRecord), nil
}

// SetOutcome decides a record's outcome. An outcome is set at most once;
// later verdicts for the same record are rejected.
func (r *RecordStore) SetOutcome(id string, outcome Outcome) (QueryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.byID[id]
	if !ok {
		return QueryRecord{}, ErrRecordNotFound
	}
	record := elem.Value.(*QueryRecord)
	if record.Outcome != OutcomePending {
		return *record, ErrOutcomeAlreadySet
	}
	record.Outcome = outcome
	return *record, nil
}

// Len returns the number of retained records.
func (r *RecordStore) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.order.Len()
}
