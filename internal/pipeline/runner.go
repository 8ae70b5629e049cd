package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/user/viral-detector-go/internal/classifier"
	"github.com/user/viral-detector-go/internal/config"
	"github.com/user/viral-detector-go/internal/export"
	"github.com/user/viral-detector-go/internal/feed"
	"github.com/user/viral-detector-go/internal/model"
	"github.com/user/viral-detector-go/internal/server"
	"github.com/user/viral-detector-go/internal/store"
	"golang.org/x/sync/errgroup"
)

// ErrRunFailed is returned by Run when the outcome is a failure
var ErrRunFailed = errors.New("run failed")

// topViralSize is the number of rows kept in Summary.TopViral
const topViralSize = 5

// Options are the cross-cutting settings of a run
type Options struct {
	Regions     []string
	MaxRequests int
	Concurrency int
	Verify      bool
	ViralOnly   bool
	// Limit caps the exported rows; 0 exports every row
	Limit int
}

// OptionsFromConfig builds run options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Regions:     cfg.Detection.Countries,
		MaxRequests: cfg.Detection.MaxRequests,
		Concurrency: cfg.Detection.Concurrency,
		Verify:      cfg.API.VerifyOnStart,
		ViralOnly:   cfg.Output.ViralOnly,
		Limit:       cfg.Output.Limit,
	}
}

// Target is an exporter together with its destination pattern
type Target struct {
	Exporter export.Exporter
	// Destination may contain {timestamp}, {date} and {run_id}
	Destination string
	// Required targets fail the run when their export fails
	Required bool
}

// Runner drives detection runs: collect, classify, persist, export
type Runner struct {
	client     feed.Client
	store      store.Store
	classifier *classifier.Classifier
	targets    []Target
	opts       Options

	state atomic.Int32
	mu    sync.Mutex
	last  *Summary

	now   func() time.Time
	newID func() string
}

// NewRunner creates a runner
func NewRunner(client feed.Client, st store.Store, cls *classifier.Classifier, targets []Target, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRequests < 1 {
		opts.MaxRequests = 1
	}
	return &Runner{
		client:     client,
		store:      st,
		classifier: cls,
		targets:    targets,
		opts:       opts,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// State returns the current step of the latest run
func (r *Runner) State() State {
	return State(r.state.Load())
}

// StateName returns State as a string
func (r *Runner) StateName() string {
	return r.State().String()
}

// LastSummary returns the summary of the latest finished run, or nil
func (r *Runner) LastSummary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// Run executes one detection pass. The summary is always returned; the
// error is non-nil exactly when the outcome is a failure.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := r.newSummary(r.opts.Regions)

	log.Info().
		Str("run_id", summary.RunID).
		Strs("regions", r.opts.Regions).
		Int("max_requests", r.opts.MaxRequests).
		Msg("Starting detection run")

	r.setState(Idle)
	err := r.run(ctx, summary)
	return r.finish(ctx, summary, err)
}

// ExportOnly hands the rows already in the store to every target without
// contacting the feed
func (r *Runner) ExportOnly(ctx context.Context) (*Summary, error) {
	summary := r.newSummary(nil)

	log.Info().
		Str("run_id", summary.RunID).
		Bool("viral_only", r.opts.ViralOnly).
		Int("limit", r.opts.Limit).
		Msg("Starting export-only run")

	r.setState(Exporting)
	err := r.export(ctx, summary)
	return r.finish(ctx, summary, err)
}

func (r *Runner) newSummary(regions []string) *Summary {
	summary := &Summary{
		RunID:     r.newID(),
		StartedAt: r.now(),
		Regions:   make([]RegionSummary, len(regions)),
	}
	for i, region := range regions {
		summary.Regions[i].Region = region
	}
	return summary
}

func (r *Runner) run(ctx context.Context, summary *Summary) error {
	if r.opts.Verify {
		r.setState(Verifying)
		if err := r.client.Verify(ctx); err != nil {
			return fmt.Errorf("credential check: %w", err)
		}
		log.Info().Msg("Feed credentials verified")
	}

	r.setState(Collecting)
	if err := r.collect(ctx, summary.Regions); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if allRegionsFailed(summary.Regions) {
		return errors.New("every region failed before returning a page")
	}

	r.setState(Exporting)
	return r.export(ctx, summary)
}

// collect walks every region, at most Concurrency at a time. Only errors
// that must abort the whole run are returned.
func (r *Runner) collect(ctx context.Context, regions []RegionSummary) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for i := range regions {
		rs := &regions[i]
		g.Go(func() error {
			return r.collectRegion(gctx, rs)
		})
	}
	return g.Wait()
}

func (r *Runner) collectRegion(ctx context.Context, rs *RegionSummary) error {
	logger := log.With().Str("region", rs.Region).Logger()

	var cursor *feed.Cursor
	for rs.Pages < r.opts.MaxRequests {
		if err := ctx.Err(); err != nil {
			rs.Err = err
			return err
		}

		r.setState(Collecting)
		page, err := r.client.Fetch(ctx, rs.Region, cursor)
		if err != nil {
			rs.Err = err
			server.RecordFetchError(errorType(err))
			logger.Error().Err(err).Int("page", rs.Pages+1).Msg("Page fetch failed, stopping region")
			if errors.Is(err, feed.ErrAuth) || ctx.Err() != nil {
				return err
			}
			return nil
		}

		rs.Pages++
		rs.Raw += page.RawCount
		rs.Dropped += page.Dropped
		rs.Processed += len(page.Records)

		viral, skipped := r.processPage(ctx, page.Records, rs)
		server.RecordRegion(rs.Region, len(page.Records), page.Dropped, viral, skipped)

		logger.Debug().
			Int("page", rs.Pages).
			Str("strategy", page.Strategy).
			Int("records", len(page.Records)).
			Int("dropped", page.Dropped).
			Int("viral", viral).
			Msg("Processed page")

		if page.Next == nil {
			break
		}
		cursor = page.Next
	}

	logger.Info().
		Int("pages", rs.Pages).
		Int("processed", rs.Processed).
		Int("dropped", rs.Dropped).
		Int("viral", rs.Viral).
		Int("skipped", rs.Skipped).
		Msg("Region collected")
	return nil
}

// processPage classifies a page and persists it record by record. A failed
// upsert is retried once before the record is skipped.
func (r *Runner) processPage(ctx context.Context, records []*model.VideoRecord, rs *RegionSummary) (viral, skipped int) {
	r.setState(Classifying)
	classes := make([]model.Classification, len(records))
	for i, rec := range records {
		classes[i] = r.classifier.Classify(rec)
		if classes[i].IsViral {
			viral++
		}
	}
	rs.Viral += viral

	r.setState(Persisting)
	for i, rec := range records {
		res, err := r.upsert(ctx, rec, classes[i])
		if err != nil {
			skipped++
			log.Warn().Err(err).Str("video_id", rec.VideoID).Msg("Skipping record after failed upsert")
			continue
		}
		switch res {
		case store.Inserted:
			rs.Inserted++
		case store.Updated:
			rs.Updated++
		case store.Stale:
			rs.Stale++
		}
	}
	rs.Skipped += skipped
	return viral, skipped
}

func (r *Runner) upsert(ctx context.Context, rec *model.VideoRecord, cls model.Classification) (store.UpsertResult, error) {
	res, err := r.store.Upsert(ctx, rec, cls)
	if err == nil || !errors.Is(err, store.ErrPersistence) || ctx.Err() != nil {
		return res, err
	}
	log.Debug().Err(err).Str("video_id", rec.VideoID).Msg("Retrying upsert")
	return r.store.Upsert(ctx, rec, cls)
}

// export materializes the query once and hands it to every target. Targets
// fail independently; only required ones fail the run.
func (r *Runner) export(ctx context.Context, summary *Summary) error {
	rows, err := store.Collect(r.store.Query(ctx, store.Filter{ViralOnly: r.opts.ViralOnly, Limit: r.opts.Limit}))
	if err != nil {
		return fmt.Errorf("load export rows: %w", err)
	}

	for _, v := range rows {
		if len(summary.TopViral) == topViralSize {
			break
		}
		if v.IsViral {
			summary.TopViral = append(summary.TopViral, v)
		}
	}

	var required []error
	for _, t := range r.targets {
		dest := export.DestinationName(t.Destination, summary.RunID, summary.StartedAt)
		res := ExportResult{
			Exporter:    t.Exporter.Name(),
			Destination: dest,
			Rows:        len(rows),
			Required:    t.Required,
		}

		if err := t.Exporter.Export(ctx, rows, dest); err != nil {
			res.Err = err
			server.RecordExport(res.Exporter, "failed")
			log.Error().Err(err).Str("exporter", res.Exporter).Bool("required", t.Required).Msg("Export failed")
			if t.Required {
				required = append(required, err)
			}
		} else {
			server.RecordExport(res.Exporter, "ok")
		}
		summary.Exports = append(summary.Exports, res)
	}

	if len(required) > 0 {
		return fmt.Errorf("required export failed: %w", errors.Join(required...))
	}
	return nil
}

func (r *Runner) finish(ctx context.Context, summary *Summary, runErr error) (*Summary, error) {
	summary.FinishedAt = r.now()

	// totals and history are written even when the run was cancelled
	bg := context.WithoutCancel(ctx)
	if counts, err := r.store.Count(bg); err != nil {
		log.Warn().Err(err).Msg("Failed to count stored videos")
	} else {
		summary.Totals = counts
		server.UpdateVideoCounts(counts)
	}

	summary.Outcome = outcome(summary, runErr)
	if runErr != nil {
		summary.FailReason = runErr.Error()
		summary.State = Failed
	} else {
		summary.State = Done
	}
	r.setState(summary.State)

	if err := r.store.RecordRun(bg, summary.Record()); err != nil {
		log.Warn().Err(err).Msg("Failed to record run")
	}
	server.RecordRun(summary.Outcome, summary.Duration())

	r.mu.Lock()
	r.last = summary
	r.mu.Unlock()

	event := log.Info()
	if runErr != nil {
		event = log.Error().Err(runErr)
	}
	event.
		Str("run_id", summary.RunID).
		Str("outcome", string(summary.Outcome)).
		Int("processed", summary.Processed()).
		Int("dropped", summary.Dropped()).
		Int("viral", summary.Viral()).
		Int("skipped", summary.Skipped()).
		Int64("stored", summary.Totals.Total).
		Dur("duration", summary.Duration()).
		Msg("Detection run finished")

	if runErr != nil {
		return summary, fmt.Errorf("%w: %w", ErrRunFailed, runErr)
	}
	return summary, nil
}

func outcome(summary *Summary, runErr error) model.RunOutcome {
	if runErr != nil {
		return model.RunOutcomeFailure
	}
	for _, rs := range summary.Regions {
		if rs.Err != nil || rs.Skipped > 0 {
			return model.RunOutcomePartialSuccess
		}
	}
	for _, e := range summary.Exports {
		if e.Err != nil {
			return model.RunOutcomePartialSuccess
		}
	}
	return model.RunOutcomeSuccess
}

func allRegionsFailed(regions []RegionSummary) bool {
	if len(regions) == 0 {
		return false
	}
	for _, rs := range regions {
		if rs.Pages > 0 || rs.Err == nil {
			return false
		}
	}
	return true
}

func errorType(err error) string {
	switch {
	case errors.Is(err, feed.ErrAuth):
		return "auth"
	case errors.Is(err, feed.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, feed.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, feed.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
