package classifier

import (
	"time"

	"github.com/user/viral-detector-go/internal/model"
)

// MinElapsedHours floors the elapsed time used as the velocity divisor
const MinElapsedHours = 0.01

// Params are the caller-supplied detection thresholds
type Params struct {
	MinViews       int64
	TimeLimitHours float64
}

// Classify derives metrics and the viral verdict for rec as of now.
// Both thresholds are inclusive.
func Classify(rec *model.VideoRecord, params Params, now time.Time) model.Classification {
	elapsed := now.Sub(rec.CreatedAt).Hours()

	divisor := elapsed
	if divisor < MinElapsedHours {
		divisor = MinElapsedHours
	}

	return model.Classification{
		ElapsedHours: elapsed,
		Velocity:     float64(rec.ViewCount) / divisor,
		IsViral:      rec.ViewCount >= params.MinViews && elapsed <= params.TimeLimitHours,
	}
}

// Classifier binds Params to a clock
type Classifier struct {
	params Params
	now    func() time.Time
}

// New creates a classifier using the wall clock
func New(params Params) *Classifier {
	return &Classifier{params: params, now: time.Now}
}

// WithClock replaces the clock, for tests and replays
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	return &Classifier{params: c.params, now: now}
}

// Classify classifies rec at the current clock time
func (c *Classifier) Classify(rec *model.VideoRecord) model.Classification {
	return Classify(rec, c.params, c.now())
}
