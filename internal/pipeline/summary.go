package pipeline

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/viral-detector-go/internal/model"
	"github.com/user/viral-detector-go/internal/store"
)

// RegionSummary counts what one region contributed to a run. Processed is
// the number of records that survived normalization; Raw is what the
// upstream returned before that.
type RegionSummary struct {
	Region    string
	Pages     int
	Raw       int
	Processed int
	Dropped   int
	Viral     int
	Skipped   int
	Inserted  int
	Updated   int
	Stale     int
	Err       error
}

// ExportResult is the outcome of one exporter invocation
type ExportResult struct {
	Exporter    string
	Destination string
	Rows        int
	Required    bool
	Err         error
}

// Summary describes a finished run
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Regions    []RegionSummary
	Exports    []ExportResult
	Totals     store.Counts
	// TopViral holds the first rows of the export, best first
	TopViral   []*model.StoredVideo
	Outcome    model.RunOutcome
	FailReason string
	State      State
}

// Processed returns the processed count across regions
func (s *Summary) Processed() int {
	n := 0
	for _, r := range s.Regions {
		n += r.Processed
	}
	return n
}

// Dropped returns the dropped count across regions
func (s *Summary) Dropped() int {
	n := 0
	for _, r := range s.Regions {
		n += r.Dropped
	}
	return n
}

// Skipped returns the number of records that could not be persisted
func (s *Summary) Skipped() int {
	n := 0
	for _, r := range s.Regions {
		n += r.Skipped
	}
	return n
}

// Viral returns the number of records classified viral in this run
func (s *Summary) Viral() int {
	n := 0
	for _, r := range s.Regions {
		n += r.Viral
	}
	return n
}

// Duration returns how long the run took
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// maxFailReason is the column width of RunRecord.FailReason in characters
const maxFailReason = 500

// Record converts the summary to its persisted form
func (s *Summary) Record() *model.RunRecord {
	regions := make([]string, 0, len(s.Regions))
	for _, r := range s.Regions {
		regions = append(regions, r.Region)
	}
	reason := s.FailReason
	if utf8.RuneCountInString(reason) > maxFailReason {
		reason = string([]rune(reason)[:maxFailReason])
	}
	return &model.RunRecord{
		RunID:      s.RunID,
		Outcome:    s.Outcome,
		Regions:    strings.Join(regions, ","),
		Processed:  s.Processed(),
		Dropped:    s.Dropped(),
		Skipped:    s.Skipped(),
		Viral:      s.Viral(),
		FailReason: reason,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
}
