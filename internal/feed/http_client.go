package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds how much of a response body is read
const maxBodyBytes = 16 << 20

// HTTPClient implements the Client interface against the upstream JSON API
type HTTPClient struct {
	client     *http.Client
	gate       Gate
	config     *ClientConfig
	strategies []Strategy
	normalizer *Normalizer
	now        func() time.Time
}

// NewHTTPClient creates a new HTTP feed client. gate is shared with every
// other client talking to the same upstream.
func NewHTTPClient(cfg *ClientConfig, gate Gate) (*HTTPClient, error) {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if gate == nil {
		return nil, fmt.Errorf("rate gate is required")
	}

	strategies, err := ResolveStrategies(cfg.Strategies)
	if err != nil {
		return nil, err
	}

	// Create HTTP client with connection pooling
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	// Configure proxy if provided
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		gate:       gate,
		config:     cfg,
		strategies: strategies,
		normalizer: NewNormalizer(),
		now:        time.Now,
	}, nil
}

// Fetch returns one normalized page for region
func (c *HTTPClient) Fetch(ctx context.Context, region string, cursor *Cursor) (*Page, error) {
	if cursor != nil {
		strategy, ok := c.strategy(cursor.Strategy)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cursor.Strategy)
		}
		return c.fetchStrategy(ctx, strategy, region, cursor.Token)
	}

	var (
		lastErr error
		empty   *Page
		raw     int
		dropped int
	)

	for _, strategy := range c.strategies {
		page, err := c.fetchStrategy(ctx, strategy, region, "")
		if err != nil {
			if errors.Is(err, ErrAuth) || ctx.Err() != nil {
				return nil, err
			}
			log.Warn().Err(err).Str("region", region).Str("strategy", strategy.Name).Msg("Feed strategy failed, trying next")
			lastErr = err
			continue
		}

		raw += page.RawCount
		dropped += page.Dropped

		if len(page.Records) > 0 {
			page.RawCount = raw
			page.Dropped = dropped
			return page, nil
		}

		log.Warn().Str("region", region).Str("strategy", strategy.Name).Msg("Feed strategy returned no usable items, trying next")
		if empty == nil {
			empty = page
		}
	}

	if empty != nil {
		empty.RawCount = raw
		empty.Dropped = dropped
		return empty, nil
	}
	return nil, lastErr
}

// Verify makes one minimal request to confirm the API key works
func (c *HTTPClient) Verify(ctx context.Context) error {
	strategy := c.strategies[0]
	region := c.config.VerifyRegion
	if region == "" {
		region = "us"
	}

	body, err := c.fetchWithRetry(ctx, strategy, region, "", 1)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	if _, _, err := decodeEnvelope(body); err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	log.Info().Str("strategy", strategy.Name).Msg("API credentials verified")
	return nil
}

func (c *HTTPClient) strategy(name string) (Strategy, bool) {
	for _, s := range c.strategies {
		if s.Name == name {
			return s, true
		}
	}
	return Strategy{}, false
}

func (c *HTTPClient) fetchStrategy(ctx context.Context, strategy Strategy, region, token string) (*Page, error) {
	body, err := c.fetchWithRetry(ctx, strategy, region, token, c.pageSize())
	if err != nil {
		return nil, err
	}

	page, err := c.normalizer.NormalizePage(body, strategy.Name, region, c.now().UTC())
	if err != nil {
		return nil, &FetchError{Strategy: strategy.Name, Region: region, Err: err}
	}

	log.Debug().
		Str("region", region).
		Str("strategy", strategy.Name).
		Int("raw", page.RawCount).
		Int("records", len(page.Records)).
		Int("dropped", page.Dropped).
		Bool("has_next", page.Next != nil).
		Msg("Fetched feed page")

	return page, nil
}

func (c *HTTPClient) pageSize() int {
	if c.config.PageSize <= 0 || c.config.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return c.config.PageSize
}

// fetchWithRetry passes the gate before every attempt and retries transient
// failures with exponential backoff
func (c *HTTPClient) fetchWithRetry(ctx context.Context, strategy Strategy, region, token string, count int) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.do(ctx, strategy, region, token, count)
		if err == nil {
			return body, nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err

		if attempt < c.config.MaxRetries {
			backoff := c.backoff(attempt, err)
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Transient feed error, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// backoff returns RetryBackoff * 2^attempt, capped, or the upstream's
// Retry-After when that is longer
func (c *HTTPClient) backoff(attempt int, err error) time.Duration {
	backoff := time.Duration(float64(c.config.RetryBackoff) * math.Pow(2, float64(attempt)))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	var fe *FetchError
	if errors.As(err, &fe) && fe.RetryAfter > backoff {
		backoff = fe.RetryAfter
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return backoff
}

// do performs a single HTTP request and classifies the response
func (c *HTTPClient) do(ctx context.Context, strategy Strategy, region, token string, count int) ([]byte, error) {
	params := url.Values{}
	params.Set("count", strconv.Itoa(count))
	params.Set("country", region)
	if token != "" {
		params.Set("cursor", token)
	}
	target := strings.TrimRight(c.config.BaseURL, "/") + "/" + strategy.Path + "?" + params.Encode()

	fail := func(status int, err error, detail string) *FetchError {
		return &FetchError{Strategy: strategy.Name, Region: region, StatusCode: status, Err: err, Detail: detail}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request error: %w", err)
	}

	req.Header.Set("X-API-KEY", c.config.APIKey)
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fail(0, ErrUnreachable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fail(resp.StatusCode, ErrUnreachable, "read body: "+err.Error())
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Str("strategy", strategy.Name).
		Str("region", region).
		Str("content_type", resp.Header.Get("Content-Type")).
		Int("length", len(body)).
		Msg("HTTP response")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fail(resp.StatusCode, ErrAuth, "API key rejected")
	case resp.StatusCode == http.StatusTooManyRequests:
		fe := fail(resp.StatusCode, ErrRateLimited, "")
		fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, fe
	case resp.StatusCode >= 500:
		return nil, fail(resp.StatusCode, ErrUnreachable, "")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fail(resp.StatusCode, ErrMalformedResponse, "unexpected status")
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return nil, fail(resp.StatusCode, ErrMalformedResponse, "non-JSON "+describeHTML(body))
	}
	return body, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
