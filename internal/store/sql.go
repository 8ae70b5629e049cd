package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/user/viral-detector-go/internal/config"
	"github.com/user/viral-detector-go/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// viralView is the view exposing the viral subset of the videos table
const viralView = "viral_videos"

// defaultBatchSize is the page size Query reads per round trip
const defaultBatchSize = 500

// upsertColumns are overwritten when a video is observed again
var upsertColumns = []string{
	"description", "view_count", "like_count", "comment_count", "share_count",
	"author_username", "author_display_name", "author_follower_count",
	"posted_at", "region", "hashtags", "is_verified_author", "collected_at",
	"elapsed_hours", "velocity", "is_viral", "updated_at",
}

// SQLStore implements Store interface using a MySQL or Postgres database
type SQLStore struct {
	db        *gorm.DB
	locks     *keyLocks
	batchSize int
}

// NewSQLStore creates a new SQL store for the configured driver
func NewSQLStore(cfg *config.DBConfig) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverMySQL:
		dialector = mysql.Open(cfg.DSN())
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported SQL driver %q", cfg.Driver)
	}
	return Open(dialector, cfg.MaxConns)
}

// Open connects through dialector, migrates the schema and creates the
// viral view
func Open(dialector gorm.Dialector, maxConns int) (*SQLStore, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 2)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Auto migrate tables
	if err := db.AutoMigrate(&model.StoredVideo{}, &model.RunRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	viewSQL := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s WHERE is_viral = TRUE",
		viralView, model.StoredVideo{}.TableName())
	if err := db.Exec(viewSQL).Error; err != nil {
		return nil, fmt.Errorf("failed to create %s view: %w", viralView, err)
	}

	return &SQLStore{db: db, locks: newKeyLocks(), batchSize: defaultBatchSize}, nil
}

// Upsert inserts or updates the row for rec.VideoID. The stale check is a
// plain read under the per-id lock; no row locks are taken, so upserts of
// different ids never wait on each other.
func (s *SQLStore) Upsert(ctx context.Context, rec *model.VideoRecord, cls model.Classification) (UpsertResult, error) {
	unlock := s.locks.Lock(rec.VideoID)
	defer unlock()

	db := s.db.WithContext(ctx)

	var existing model.StoredVideo
	err := db.Select("id", "collected_at").
		Where("video_id = ?", rec.VideoID).
		Take(&existing).Error

	result := Updated
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		result = Inserted
	case err != nil:
		return 0, &PersistenceError{Op: "upsert", VideoID: rec.VideoID, Err: err}
	case rec.CollectedAt.Before(existing.CollectedAt):
		return Stale, nil
	}

	row := model.NewStoredVideo(rec, cls)
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(row).Error
	if err != nil {
		return 0, &PersistenceError{Op: "upsert", VideoID: rec.VideoID, Err: err}
	}
	return result, nil
}

// Query pages through matching rows with keyset pagination on
// (view_count DESC, video_id ASC)
func (s *SQLStore) Query(ctx context.Context, filter Filter) iter.Seq2[*model.StoredVideo, error] {
	return func(yield func(*model.StoredVideo, error) bool) {
		var (
			lastViews int64
			lastID    string
			started   bool
			emitted   int
		)

		for {
			batch := s.batchSize
			if filter.Limit > 0 && filter.Limit-emitted < batch {
				batch = filter.Limit - emitted
			}
			if batch <= 0 {
				return
			}

			q := s.db.WithContext(ctx)
			if filter.ViralOnly {
				q = q.Table(viralView)
			} else {
				q = q.Model(&model.StoredVideo{})
			}
			if started {
				q = q.Where("(view_count < ? OR (view_count = ? AND video_id > ?))", lastViews, lastViews, lastID)
			}

			var rows []*model.StoredVideo
			if err := q.Order("view_count DESC").Order("video_id ASC").Limit(batch).Find(&rows).Error; err != nil {
				yield(nil, &PersistenceError{Op: "query", Err: err})
				return
			}

			for _, row := range rows {
				if !yield(row, nil) {
					return
				}
				emitted++
			}

			if len(rows) < batch {
				return
			}
			last := rows[len(rows)-1]
			lastViews, lastID, started = last.ViewCount, last.VideoID, true
		}
	}
}

// Count returns the number of observed and viral videos
func (s *SQLStore) Count(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.WithContext(ctx).Model(&model.StoredVideo{}).Count(&c.Total).Error; err != nil {
		return Counts{}, &PersistenceError{Op: "count videos", Err: err}
	}
	if err := s.db.WithContext(ctx).Table(viralView).Count(&c.Viral).Error; err != nil {
		return Counts{}, &PersistenceError{Op: "count viral videos", Err: err}
	}
	return c, nil
}

// RecordRun persists a run summary
func (s *SQLStore) RecordRun(ctx context.Context, run *model.RunRecord) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return &PersistenceError{Op: "record run", Err: err}
	}
	return nil
}

// LastRun returns the most recent run summary, or nil when none exists
func (s *SQLStore) LastRun(ctx context.Context) (*model.RunRecord, error) {
	var run model.RunRecord
	err := s.db.WithContext(ctx).Order("id DESC").Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "load last run", Err: err}
	}
	return &run, nil
}

// Ping checks database connectivity
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	return sqlDB.Close()
}
