package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/user/viral-detector-go/internal/model"
)

// MaxDescriptionRunes bounds the stored description length
const MaxDescriptionRunes = 100

// Normalizer turns raw upstream items into VideoRecords
type Normalizer struct{}

// NewNormalizer creates a new Normalizer instance
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// object is a decoded JSON object with alias-aware accessors
type object map[string]any

func asObject(v any) object {
	if m, ok := v.(map[string]any); ok {
		return object(m)
	}
	return nil
}

func (o object) child(key string) object {
	if o == nil {
		return nil
	}
	return asObject(o[key])
}

func (o object) list(key string) []any {
	if o == nil {
		return nil
	}
	if l, ok := o[key].([]any); ok {
		return l
	}
	return nil
}

// str returns the first non-empty value among keys
func (o object) str(keys ...string) string {
	for _, k := range keys {
		switch v := o[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// int returns the first non-zero integer among keys. Numeric strings count.
func (o object) int(keys ...string) int64 {
	for _, k := range keys {
		if n, ok := toInt(o[k]); ok && n != 0 {
			return n
		}
	}
	return 0
}

func (o object) bool(key string) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case json.Number:
		n, _ := v.Int64()
		return n != 0
	}
	return false
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	case float64:
		return int64(n), true
	}
	return 0, false
}

func firstNonZero(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeEnvelope extracts the raw items and the next cursor token from an
// upstream response body
func decodeEnvelope(body []byte) (items []any, next string, err error) {
	root, err := decodeJSON(body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid JSON: %v", ErrMalformedResponse, err)
	}

	if l, ok := root.([]any); ok {
		return l, "", nil
	}

	obj := asObject(root)
	if obj == nil {
		return nil, "", fmt.Errorf("%w: unexpected JSON type %T", ErrMalformedResponse, root)
	}

	if strings.EqualFold(obj.str("status"), "error") {
		msg := obj.str("message", "error")
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "api key") || strings.Contains(lower, "apikey") || strings.Contains(lower, "unauthorized") {
			return nil, "", fmt.Errorf("%w: %s", ErrAuth, msg)
		}
		return nil, "", fmt.Errorf("%w: upstream error: %s", ErrMalformedResponse, msg)
	}

	inner := obj.child("json")
	switch {
	case obj.list("data") != nil:
		items = obj.list("data")
	case inner.list("itemList") != nil:
		items = inner.list("itemList")
	case obj.list("itemList") != nil:
		items = obj.list("itemList")
	case obj.list("items") != nil:
		items = obj.list("items")
	default:
		if _, ok := obj["itemList"]; ok {
			// an explicit null list is an empty page
			return nil, "", nil
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		return nil, "", fmt.Errorf("%w: unknown response structure %v", ErrMalformedResponse, keys)
	}

	hasMore := obj.bool("hasMore") || inner.bool("hasMore")
	if hasMore {
		next = obj.str("cursor")
		if next == "" {
			next = inner.str("cursor")
		}
	}
	return items, next, nil
}

// NormalizePage decodes body and normalizes every item in it. Items that
// cannot be normalized are dropped and counted.
func (n *Normalizer) NormalizePage(body []byte, strategy, region string, collectedAt time.Time) (*Page, error) {
	items, next, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}

	page := &Page{
		Strategy: strategy,
		RawCount: len(items),
		Records:  make([]*model.VideoRecord, 0, len(items)),
	}
	if next != "" {
		page.Next = &Cursor{Strategy: strategy, Token: next}
	}

	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		rec, err := n.Normalize(item, region, collectedAt)
		if err != nil {
			page.Dropped++
			log.Warn().
				Err(err).
				Str("region", region).
				Str("strategy", strategy).
				Int("index", i).
				Msg("Dropped feed item")
			continue
		}
		if _, dup := seen[rec.VideoID]; dup {
			log.Debug().Str("video_id", rec.VideoID).Msg("Duplicate item within page")
			continue
		}
		seen[rec.VideoID] = struct{}{}
		page.Records = append(page.Records, rec)
	}

	return page, nil
}

// Normalize converts one raw item into a VideoRecord
func (n *Normalizer) Normalize(item any, region string, collectedAt time.Time) (*model.VideoRecord, error) {
	obj := asObject(item)
	if obj == nil {
		return nil, &NormalizationError{Field: "item", Reason: fmt.Sprintf("expected object, got %T", item)}
	}

	videoID := obj.str("id", "video_id")
	if videoID == "" {
		return nil, &NormalizationError{Field: "video_id", Reason: "missing"}
	}

	createdAt, err := parsePostTime(obj)
	if err != nil {
		return nil, err
	}
	if createdAt.After(collectedAt) {
		return nil, &NormalizationError{Field: "created_at", Reason: "after collection time"}
	}

	stats := obj.child("stats")
	author := obj.child("author")
	authorStats := obj.child("authorStats")

	return &model.VideoRecord{
		VideoID:      videoID,
		Description:  truncateDescription(obj.str("desc", "description", "title")),
		ViewCount:    nonNegative(firstNonZero(stats.int("playCount", "play_count", "views"), obj.int("views", "play_count"))),
		LikeCount:    nonNegative(firstNonZero(stats.int("diggCount", "digg_count", "likes"), obj.int("likes"))),
		CommentCount: nonNegative(firstNonZero(stats.int("commentCount", "comment_count", "comments"), obj.int("comments"))),
		ShareCount:   nonNegative(firstNonZero(stats.int("shareCount", "share_count", "shares"), obj.int("shares"))),

		AuthorUsername:      author.str("uniqueId", "username", "unique_id"),
		AuthorDisplayName:   author.str("nickname", "display_name", "name"),
		AuthorFollowerCount: nonNegative(firstNonZero(author.int("followerCount", "follower_count", "followers"), authorStats.int("followerCount"))),
		IsVerifiedAuthor:    author.bool("verified"),

		CreatedAt:   createdAt,
		Region:      region,
		Hashtags:    extractHashtags(obj),
		CollectedAt: collectedAt,
	}, nil
}

func parsePostTime(obj object) (time.Time, error) {
	for _, k := range []string{"createTime", "create_time", "created_at"} {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		if secs, ok := toInt(v); ok {
			if secs <= 0 {
				return time.Time{}, &NormalizationError{Field: "created_at", Reason: "not a positive timestamp"}
			}
			return time.Unix(secs, 0).UTC(), nil
		}
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, &NormalizationError{Field: "created_at", Reason: fmt.Sprintf("unparseable value %v", v)}
	}
	return time.Time{}, &NormalizationError{Field: "created_at", Reason: "missing"}
}

func extractHashtags(obj object) []string {
	var tags []string
	seen := make(map[string]struct{})
	add := func(tag string) {
		tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	for _, c := range obj.list("challenges") {
		if o := asObject(c); o != nil {
			add(o.str("title"))
		} else if s, ok := c.(string); ok {
			add(s)
		}
	}
	for _, t := range obj.list("textExtra") {
		if o := asObject(t); o != nil {
			add(o.str("hashtagName"))
		}
	}
	for _, h := range obj.list("hashtags") {
		if o := asObject(h); o != nil {
			add(o.str("title", "name"))
		} else if s, ok := h.(string); ok {
			add(s)
		}
	}
	return tags
}

func truncateDescription(desc string) string {
	if utf8.RuneCountInString(desc) <= MaxDescriptionRunes {
		return desc
	}
	runes := []rune(desc)
	return string(runes[:MaxDescriptionRunes]) + "..."
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// describeHTML returns a short human-readable summary of a non-JSON body,
// preferring the HTML page title
func describeHTML(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
			return "page title " + strconv.Quote(title)
		}
		if text := strings.Join(strings.Fields(doc.Find("body").Text()), " "); text != "" {
			return "body " + strconv.Quote(clip(text, 120))
		}
	}
	return "body " + strconv.Quote(clip(string(body), 120))
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
