package store

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/user/viral-detector-go/internal/model"
)

// MemoryStore implements Store in process memory. It backs mock mode and
// runs without a configured database.
type MemoryStore struct {
	locks  *keyLocks
	mu     sync.RWMutex
	videos map[string]*model.StoredVideo
	runs   []*model.RunRecord
	nextID uint
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:  newKeyLocks(),
		videos: make(map[string]*model.StoredVideo),
		now:    time.Now,
	}
}

// Upsert stores the latest observation of a video
func (s *MemoryStore) Upsert(ctx context.Context, rec *model.VideoRecord, cls model.Classification) (UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, &PersistenceError{Op: "upsert", VideoID: rec.VideoID, Err: err}
	}

	unlock := s.locks.Lock(rec.VideoID)
	defer unlock()

	s.mu.RLock()
	existing := s.videos[rec.VideoID]
	s.mu.RUnlock()

	if existing != nil && rec.CollectedAt.Before(existing.CollectedAt) {
		return Stale, nil
	}

	row := model.NewStoredVideo(rec, cls)
	now := s.now()
	row.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing != nil {
		row.ID = existing.ID
		row.FirstSeenAt = existing.FirstSeenAt
		s.videos[rec.VideoID] = row
		return Updated, nil
	}

	s.nextID++
	row.ID = s.nextID
	row.FirstSeenAt = now
	s.videos[rec.VideoID] = row
	return Inserted, nil
}

// Query yields a snapshot of matching rows taken when iteration starts
func (s *MemoryStore) Query(ctx context.Context, filter Filter) iter.Seq2[*model.StoredVideo, error] {
	return func(yield func(*model.StoredVideo, error) bool) {
		s.mu.RLock()
		rows := make([]*model.StoredVideo, 0, len(s.videos))
		for _, v := range s.videos {
			if filter.ViralOnly && !v.IsViral {
				continue
			}
			cp := *v
			cp.Hashtags = append([]string(nil), v.Hashtags...)
			rows = append(rows, &cp)
		}
		s.mu.RUnlock()

		sortRows(rows)
		if filter.Limit > 0 && len(rows) > filter.Limit {
			rows = rows[:filter.Limit]
		}

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				yield(nil, &PersistenceError{Op: "query", Err: err})
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// Count returns the number of observed and viral videos
func (s *MemoryStore) Count(ctx context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := Counts{Total: int64(len(s.videos))}
	for _, v := range s.videos {
		if v.IsViral {
			c.Viral++
		}
	}
	return c, nil
}

// RecordRun appends a run summary
func (s *MemoryStore) RecordRun(ctx context.Context, run *model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *run
	cp.ID = uint(len(s.runs) + 1)
	cp.CreatedAt = s.now()
	s.runs = append(s.runs, &cp)
	return nil
}

// LastRun returns the most recent run summary, or nil when none exists
func (s *MemoryStore) LastRun(ctx context.Context) (*model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return nil, nil
	}
	cp := *s.runs[len(s.runs)-1]
	return &cp, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
