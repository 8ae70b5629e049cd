package classifier

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/user/viral-detector-go/internal/model"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func recordAt(views int64, elapsed time.Duration) *model.VideoRecord {
	return &model.VideoRecord{
		VideoID:     "v1",
		ViewCount:   views,
		CreatedAt:   baseTime.Add(-elapsed),
		CollectedAt: baseTime,
	}
}

// Property 1: Classification Determinism
// *For any* record and thresholds, classifying twice at the same instant
// yields the same result.
func TestProperty_ClassificationDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same input gives same classification", prop.ForAll(
		func(views int64, minutes int64, minViews int64, limit float64) bool {
			rec := recordAt(views, time.Duration(minutes)*time.Minute)
			params := Params{MinViews: minViews, TimeLimitHours: limit}

			return Classify(rec, params, baseTime) == Classify(rec, params, baseTime)
		},
		gen.Int64Range(0, 100000000),
		gen.Int64Range(0, 60*24*30),
		gen.Int64Range(0, 10000000),
		gen.Float64Range(0.1, 168),
	))

	properties.TestingRun(t)
}

// Property 2: Inclusive Threshold Boundary
// *For any* thresholds, a record exactly at min_views and exactly at the time
// limit is viral, and one view less is not.
func TestProperty_InclusiveThresholdBoundary(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("boundary values are viral", prop.ForAll(
		func(minViews int64, limitHours int) bool {
			rec := recordAt(minViews, time.Duration(limitHours)*time.Hour)
			params := Params{MinViews: minViews, TimeLimitHours: float64(limitHours)}

			return Classify(rec, params, baseTime).IsViral
		},
		gen.Int64Range(1, 10000000),
		gen.IntRange(1, 168),
	))

	properties.Property("one view below threshold is not viral", prop.ForAll(
		func(minViews int64, limitHours int) bool {
			rec := recordAt(minViews-1, time.Duration(limitHours)*time.Hour)
			params := Params{MinViews: minViews, TimeLimitHours: float64(limitHours)}

			return !Classify(rec, params, baseTime).IsViral
		},
		gen.Int64Range(1, 10000000),
		gen.IntRange(1, 168),
	))

	properties.Property("one second past the window is not viral", prop.ForAll(
		func(minViews int64, limitHours int) bool {
			rec := recordAt(minViews, time.Duration(limitHours)*time.Hour+time.Second)
			params := Params{MinViews: minViews, TimeLimitHours: float64(limitHours)}

			return !Classify(rec, params, baseTime).IsViral
		},
		gen.Int64Range(1, 10000000),
		gen.IntRange(1, 168),
	))

	properties.TestingRun(t)
}

// Property 3: Velocity Monotonicity
// *For any* record, raising the view count without increasing elapsed time
// never lowers velocity.
func TestProperty_VelocityMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	params := Params{MinViews: 500000, TimeLimitHours: 24}

	properties.Property("more views in equal or less time never lowers velocity", prop.ForAll(
		func(views int64, extra int64, minutes int64, shrink int64) bool {
			before := Classify(recordAt(views, time.Duration(minutes)*time.Minute), params, baseTime)

			laterMinutes := minutes - shrink
			if laterMinutes < 0 {
				laterMinutes = 0
			}
			after := Classify(recordAt(views+extra, time.Duration(laterMinutes)*time.Minute), params, baseTime)

			return after.Velocity >= before.Velocity
		},
		gen.Int64Range(0, 10000000),
		gen.Int64Range(0, 10000000),
		gen.Int64Range(0, 60*48),
		gen.Int64Range(0, 60*48),
	))

	properties.Property("velocity is always finite", prop.ForAll(
		func(views int64, seconds int64) bool {
			cls := Classify(recordAt(views, time.Duration(seconds)*time.Second), params, baseTime)
			return !math.IsInf(cls.Velocity, 0) && !math.IsNaN(cls.Velocity)
		},
		gen.Int64Range(0, math.MaxInt32),
		gen.Int64Range(0, 120),
	))

	properties.TestingRun(t)
}
