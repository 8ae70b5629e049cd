package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/user/viral-detector-go/internal/model"
)

// Client fetches pages of normalized video records from the upstream feed
type Client interface {
	// Fetch returns one page for region. A nil cursor starts a new walk and
	// tries the configured strategies in order; a non-nil cursor continues
	// the strategy that produced it.
	Fetch(ctx context.Context, region string, cursor *Cursor) (*Page, error)

	// Verify makes one cheap call to confirm the credentials are accepted
	Verify(ctx context.Context) error
}

// Cursor marks a position in one strategy's feed
type Cursor struct {
	Strategy string
	Token    string
}

// Page is one normalized upstream response
type Page struct {
	Strategy string
	Records  []*model.VideoRecord
	// RawCount is the number of items the upstream returned
	RawCount int
	// Dropped is the number of items rejected by normalization
	Dropped int
	// Next is nil when the feed is exhausted
	Next *Cursor
}

// Strategy is one upstream endpoint the client can page through
type Strategy struct {
	Name string
	Path string
}

var knownStrategies = map[string]string{
	"explore":  "public/explore",
	"trending": "public/trending",
}

// ResolveStrategies maps configured strategy names to endpoints, keeping order
func ResolveStrategies(names []string) ([]Strategy, error) {
	strategies := make([]Strategy, 0, len(names))
	for _, name := range names {
		path, ok := knownStrategies[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
		}
		strategies = append(strategies, Strategy{Name: name, Path: path})
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no feed strategies configured")
	}
	return strategies, nil
}

// ClientConfig holds configuration for the HTTP client
type ClientConfig struct {
	// APIKey is sent in the X-API-KEY header on every call
	APIKey string
	// BaseURL is the upstream API root
	BaseURL string
	// Strategies is the fallback order of endpoints
	Strategies []string
	// PageSize is the count parameter, capped at MaxPageSize
	PageSize int
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// MaxRetries is the number of extra attempts for transient failures
	MaxRetries int
	// RetryBackoff is the first backoff delay; it doubles per attempt
	RetryBackoff time.Duration
	// UserAgent is the HTTP User-Agent header
	UserAgent string
	// ProxyURL is an optional HTTP proxy
	ProxyURL string
	// VerifyRegion is the region used by Verify
	VerifyRegion string
}

// MaxPageSize is the largest count the upstream accepts
const MaxPageSize = 30

// maxBackoff caps the retry delay
const maxBackoff = 30 * time.Second

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "https://api.tikapi.io",
		Strategies:   []string{"explore", "trending"},
		PageSize:     MaxPageSize,
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Second,
		UserAgent:    "TikTok-Viral-Detector/2.0",
		VerifyRegion: "us",
	}
}
