package job

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"depot/internal/apperrors"
)

// record holds the runtime state for a single job. snap.Specification is
// private to the record and its runner; readers get a decoded copy.
type record struct {
	snap    Snapshot
	key     string // coalesce key, empty when the specification has none
	done    chan struct{}
	encoded []byte
	newSpec func() Specification
}

// snapshot returns a copy of the record's state sharing nothing with it.
func (r *record) snapshot() Snapshot {
	snap := r.snap.clone()
	if r.newSpec != nil {
		if spec, err := decodeAs(r.newSpec, r.encoded); err == nil {
			snap.Specification = spec
		}
	}
	return snap
}

// jobTable manages job records and the coalesce index with thread-safe access.
type jobTable struct {
	mu    sync.RWMutex
	jobs  map[string]*record
	byKey map[string][]*record // oldest first
}

// newJobTable creates a new job table.
func newJobTable() *jobTable {
	return &jobTable{
		jobs:  make(map[string]*record),
		byKey: make(map[string][]*record),
	}
}

// admit looks up an equivalent job for key under mode and, when none exists,
// calls create and inserts its record. Lookup and insert share one critical
// section so concurrent equivalent submissions collapse to one record.
func (t *jobTable) admit(key string, mode CoalesceMode, create func() (*record, error)) (*record, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if key != "" && mode != CoalesceNone {
		recs := t.byKey[key]
		for i := len(recs) - 1; i >= 0; i-- {
			if mode.Includes(recs[i].snap.Status) {
				return recs[i], true, nil
			}
		}
	}

	rec, err := create()
	if err != nil {
		return nil, false, err
	}
	rec.key = key
	t.jobs[rec.snap.GUID] = rec
	if key != "" {
		t.byKey[key] = append(t.byKey[key], rec)
	}
	return rec, false, nil
}

// closeWith sets closed under the table lock and reports whether it was
// already set. admit checks the flag under the same lock.
func (t *jobTable) closeWith(closed *atomic.Bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return closed.Swap(true)
}

// get retrieves a job's record.
func (t *jobTable) get(guid string) (*record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, exists := t.jobs[guid]
	return rec, exists
}

// snapshot returns a copy of the job's snapshot.
func (t *jobTable) snapshot(guid string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, exists := t.jobs[guid]
	if !exists {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// transition moves rec to status to, applying mutate first. Entering a
// terminal status closes the record's completion signal.
func (t *jobTable) transition(rec *record, to Status, mutate func(*Snapshot)) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := rec.snap.Status
	if !from.CanTransitionTo(to) {
		return rec.snapshot(), apperrors.Conflict("job", rec.snap.GUID, fmt.Sprintf("cannot move from %s to %s", from, to))
	}
	if mutate != nil {
		mutate(&rec.snap)
	}
	rec.snap.Status = to
	if to.IsTerminal() {
		close(rec.done)
	}
	return rec.snapshot(), nil
}

// setProgress records progress for a started job.
func (t *jobTable) setProgress(rec *record, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.snap.Status == StatusStarted {
		rec.snap.ProgressPercent = min(max(percent, 0), 100)
	}
}

// list returns copies of the snapshots matching filter ordered by creation.
func (t *jobTable) list(filter ListFilter) []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Snapshot, 0, len(t.jobs))
	for _, rec := range t.jobs {
		if filter.matches(rec.snap) {
			result = append(result, rec.snapshot())
		}
	}
	slices.SortFunc(result, func(a, b Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.GUID, b.GUID)
	})
	return result
}

// counts returns the number of jobs per status.
func (t *jobTable) counts() map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[Status]int)
	for _, rec := range t.jobs {
		result[rec.snap.Status]++
	}
	return result
}

// release removes the records selected by expired and returns their snapshots.
func (t *jobTable) release(expired func(Snapshot) bool) []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []Snapshot
	for guid, rec := range t.jobs {
		if !expired(rec.snap) {
			continue
		}
		delete(t.jobs, guid)
		if rec.key != "" {
			remaining := slices.DeleteFunc(t.byKey[rec.key], func(r *record) bool { return r == rec })
			if len(remaining) == 0 {
				delete(t.byKey, rec.key)
			} else {
				t.byKey[rec.key] = remaining
			}
		}
		released = append(released, rec.snapshot())
	}
	return released
}

// referencedData returns the data GUIDs referenced by any job still held.
func (t *jobTable) referencedData() map[string]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]struct{})
	for _, rec := range t.jobs {
		for _, g := range rec.snap.SuppliedDataGUIDs {
			result[g] = struct{}{}
		}
		for _, g := range rec.snap.GeneratedDataGUIDs {
			result[g] = struct{}{}
		}
	}
	return result
}

// ListFilter narrows List results. Zero fields match everything.
type ListFilter struct {
	Status Status
	Kind   string
	Owner  string
}

func (f ListFilter) matches(s Snapshot) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.Kind != "" && (s.Specification == nil || s.Specification.Kind() != f.Kind) {
		return false
	}
	if f.Owner != "" && (s.Specification == nil || s.Specification.OwnerUserNickname() != f.Owner) {
		return false
	}
	return true
}
