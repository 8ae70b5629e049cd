package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/user/viral-detector-go/internal/model"
)

// ErrPersistence marks storage-layer failures. Callers may retry the single
// operation that returned it.
var ErrPersistence = errors.New("persistence failure")

// PersistenceError wraps a storage-layer failure with the operation and key
type PersistenceError struct {
	Op      string
	VideoID string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.VideoID != "" {
		return fmt.Sprintf("failed to %s video %s: %v", e.Op, e.VideoID, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// UpsertResult reports what an upsert did
type UpsertResult int

const (
	// Inserted means the video was not stored before
	Inserted UpsertResult = iota
	// Updated means an existing row was overwritten with the new observation
	Updated
	// Stale means the stored row is newer than the observation and was kept
	Stale
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Filter selects rows for Query
type Filter struct {
	ViralOnly bool
	// Limit caps the number of rows; zero means no limit
	Limit int
}

// Counts are the store totals used for reporting
type Counts struct {
	Total int64
	Viral int64
}

// Store defines the interface for data persistence operations
type Store interface {
	// Upsert inserts or overwrites the row keyed by rec.VideoID. Writes for
	// the same video are serialized; writes for different videos are not.
	Upsert(ctx context.Context, rec *model.VideoRecord, cls model.Classification) (UpsertResult, error)

	// Query yields rows ordered by view count descending, then video id
	// ascending. The sequence is lazy and may be ranged over more than once.
	Query(ctx context.Context, filter Filter) iter.Seq2[*model.StoredVideo, error]

	// Count returns the number of observed and viral videos
	Count(ctx context.Context) (Counts, error)

	// Run history
	RecordRun(ctx context.Context, run *model.RunRecord) error
	LastRun(ctx context.Context) (*model.RunRecord, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// Collect materializes a query
func Collect(seq iter.Seq2[*model.StoredVideo, error]) ([]*model.StoredVideo, error) {
	var rows []*model.StoredVideo
	for row, err := range seq {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// sortRows orders rows by view count descending, then video id ascending
func sortRows(rows []*model.StoredVideo) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ViewCount != rows[j].ViewCount {
			return rows[i].ViewCount > rows[j].ViewCount
		}
		return rows[i].VideoID < rows[j].VideoID
	})
}
