package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// FixtureStrategy names the strategy reported by FixtureClient pages
const FixtureStrategy = "fixture"

// FixtureConfig controls the generated feed
type FixtureConfig struct {
	Seed           int64
	PagesPerRegion int
	ItemsPerPage   int
	// MinViews and TimeLimitHours shape the generated items so that roughly a
	// third of them land on the viral side of the thresholds
	MinViews       int64
	TimeLimitHours float64
}

// FixtureClient serves deterministic generated pages in the upstream JSON
// shape. It is used in mock mode and by tests.
type FixtureClient struct {
	cfg        FixtureConfig
	gate       Gate
	normalizer *Normalizer
	now        func() time.Time
}

// NewFixtureClient creates a fixture client. Calls pass through gate like the
// real client does.
func NewFixtureClient(cfg FixtureConfig, gate Gate) *FixtureClient {
	if cfg.PagesPerRegion <= 0 {
		cfg.PagesPerRegion = 1
	}
	if cfg.ItemsPerPage <= 0 {
		cfg.ItemsPerPage = 10
	}
	if cfg.TimeLimitHours <= 0 {
		cfg.TimeLimitHours = 24
	}
	if gate == nil {
		gate = GateFunc(func(ctx context.Context) error { return ctx.Err() })
	}
	return &FixtureClient{
		cfg:        cfg,
		gate:       gate,
		normalizer: NewNormalizer(),
		now:        time.Now,
	}
}

// WithClock replaces the clock used for generated timestamps
func (c *FixtureClient) WithClock(now func() time.Time) *FixtureClient {
	cp := *c
	cp.now = now
	return &cp
}

// Fetch returns the generated page for region at cursor
func (c *FixtureClient) Fetch(ctx context.Context, region string, cursor *Cursor) (*Page, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}

	page := 0
	if cursor != nil {
		if cursor.Strategy != FixtureStrategy {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cursor.Strategy)
		}
		n, err := strconv.Atoi(strings.TrimPrefix(cursor.Token, "p"))
		if err != nil {
			return nil, &FetchError{Strategy: FixtureStrategy, Region: region, Err: ErrMalformedResponse, Detail: "bad cursor " + cursor.Token}
		}
		page = n
	}

	now := c.now().UTC()
	body, err := json.Marshal(c.envelope(region, page, now))
	if err != nil {
		return nil, fmt.Errorf("encode fixture page: %w", err)
	}
	return c.normalizer.NormalizePage(body, FixtureStrategy, region, now)
}

// Verify always succeeds after passing the gate
func (c *FixtureClient) Verify(ctx context.Context) error {
	return c.gate.Wait(ctx)
}

func (c *FixtureClient) envelope(region string, page int, now time.Time) map[string]any {
	h := fnv.New64a()
	h.Write([]byte(region))
	rng := rand.New(rand.NewSource(c.cfg.Seed ^ int64(h.Sum64()) ^ int64(page)<<32))

	minViews := c.cfg.MinViews
	if minViews <= 0 {
		minViews = 500000
	}
	window := time.Duration(c.cfg.TimeLimitHours * float64(time.Hour))

	items := make([]any, 0, c.cfg.ItemsPerPage)
	for i := 0; i < c.cfg.ItemsPerPage; i++ {
		id := fmt.Sprintf("mock_%s_%d_%d", region, page, i)
		item := map[string]any{
			"id":   id,
			"desc": fmt.Sprintf("Mock video %d from %s #trend%d #fyp", i, strings.ToUpper(region), i%5),
			"author": map[string]any{
				"uniqueId":      fmt.Sprintf("creator_%s_%d", region, rng.Intn(1000)),
				"nickname":      fmt.Sprintf("Creator %d", rng.Intn(1000)),
				"followerCount": rng.Int63n(5000000),
				"verified":      rng.Intn(4) == 0,
			},
			"challenges": []any{
				map[string]any{"title": fmt.Sprintf("trend%d", i%5)},
				map[string]any{"title": "fyp"},
			},
		}

		var views int64
		var age time.Duration
		switch rng.Intn(3) {
		case 0: // viral
			views = minViews + rng.Int63n(minViews*3+1)
			age = time.Duration(rng.Int63n(int64(window)))
		case 1: // popular but stale
			views = minViews + rng.Int63n(minViews*2+1)
			age = window + time.Duration(rng.Int63n(int64(72*time.Hour)))
		default: // fresh but small
			views = rng.Int63n(minViews)
			age = time.Duration(rng.Int63n(int64(window)))
		}

		item["stats"] = map[string]any{
			"playCount":    views,
			"diggCount":    views / int64(5+rng.Intn(20)),
			"commentCount": views / int64(100+rng.Intn(400)),
			"shareCount":   views / int64(200+rng.Intn(800)),
		}
		// every tenth item lacks a post time, like the real feed occasionally does
		if i%10 != 9 {
			item["createTime"] = now.Add(-age).Unix()
		}

		items = append(items, item)
	}

	env := map[string]any{
		"status":   "success",
		"itemList": items,
		"hasMore":  page+1 < c.cfg.PagesPerRegion,
	}
	if page+1 < c.cfg.PagesPerRegion {
		env["cursor"] = fmt.Sprintf("p%d", page+1)
	}
	return env
}
