package analysis

import (
	"log"
	"sync"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// Aggregator merges per-file records into a run summary. Accumulate is safe
// under concurrent workers; records land in their task-index slot so the
// finalized list follows discovery order, not completion order.
type Aggregator struct {
	mu      sync.Mutex
	runID   string
	mode    domain.Mode
	records []domain.Record
	filled  []bool
}

func NewAggregator(runID string, mode domain.Mode, size int) *Aggregator {
	return &Aggregator{
		runID:   runID,
		mode:    mode,
		records: make([]domain.Record, size),
		filled:  make([]bool, size),
	}
}

// Accumulate stores the record for a task index. A duplicate index would
// violate the one-record-per-task invariant, so the second write is dropped
// loudly.
func (a *Aggregator) Accumulate(index int, rec domain.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index < 0 || index >= len(a.records) {
		log.Printf("event=aggregate_index_out_of_range index=%d size=%d", index, len(a.records))
		return
	}
	if a.filled[index] {
		log.Printf("event=aggregate_duplicate_record index=%d file=%s", index, rec.FilePath)
		return
	}
	a.records[index] = rec
	a.filled[index] = true
}

// Finalize computes the tallies and the unique identifier set. Uniqueness is
// case-sensitive; ordering follows first appearance across the task-ordered
// record list, which keeps the set reproducible between runs.
func (a *Aggregator) Finalize(durationMS int64) domain.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	sum := domain.Summary{
		RunID:             a.runID,
		Mode:              a.mode,
		FilesAnalyzed:     len(a.records),
		Records:           a.records,
		UniqueIdentifiers: []string{},
		DurationMS:        durationMS,
	}

	seen := make(map[string]struct{})
	for _, rec := range a.records {
		if rec.Status == domain.StatusSuccess {
			sum.Successful++
		} else {
			sum.Failed++
		}
		sum.TotalIdentifiers += len(rec.Identifiers)
		for _, id := range rec.Identifiers {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			sum.UniqueIdentifiers = append(sum.UniqueIdentifiers, id)
		}
	}
	return sum
}
