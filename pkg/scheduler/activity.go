package scheduler

import (
	"sync"
	"time"

	"whatsapp-context-scheduler/pkg/models"
)

// ActivityTracker records, per conversation key, the most recent
// system-originated message. Last write wins: there is at most one record
// per key. Pure in-memory state, safe for concurrent use across keys.
type ActivityTracker struct {
	mu      sync.RWMutex
	records map[string]models.ActivityRecord
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		records: make(map[string]models.ActivityRecord),
	}
}

// Mark records a system-originated message for key, overwriting any prior
// record. Idempotent under repeated identical calls.
func (t *ActivityTracker) Mark(key string, category models.Category, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records[key] = models.ActivityRecord{
		Key:      key,
		Category: category,
		SentAt:   at,
	}
}

// TimeSince returns the elapsed time since the last system message for key
// and its category. The third return is false when no record exists; the raw
// elapsed value is returned otherwise and interpreted by the caller.
func (t *ActivityTracker) TimeSince(key string, now time.Time) (time.Duration, models.Category, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.records[key]
	if !ok {
		return 0, "", false
	}
	return now.Sub(record.SentAt), record.Category, true
}

// Hydrate installs a record loaded from the context store, unless a newer
// in-memory record already exists for the key.
func (t *ActivityTracker) Hydrate(record models.ActivityRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.records[record.Key]; ok && !existing.SentAt.Before(record.SentAt) {
		return
	}
	t.records[record.Key] = record
}

// Evict removes records older than maxAge and reports how many were removed.
// Staleness is otherwise computed at read time; eviction only bounds memory.
func (t *ActivityTracker) Evict(maxAge time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, record := range t.records {
		if now.Sub(record.SentAt) > maxAge {
			delete(t.records, key)
			removed++
		}
	}
	return removed
}

// Record returns the current record for key, if any.
func (t *ActivityTracker) Record(key string) (models.ActivityRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.records[key]
	return record, ok
}

// Len returns the number of tracked keys.
func (t *ActivityTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
