package feed

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var collected = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizePage_EnvelopeShapes(t *testing.T) {
	created := collected.Add(-time.Hour).Unix()
	item := itemJSON("v1", created, 100)

	tests := []struct {
		name     string
		body     string
		wantNext string
	}{
		{name: "itemList", body: `{"itemList":[` + item + `],"hasMore":true,"cursor":"9"}`, wantNext: "9"},
		{name: "data list", body: `{"status":"success","data":[` + item + `]}`},
		{name: "nested json", body: `{"json":{"itemList":[` + item + `],"hasMore":true,"cursor":12}}`, wantNext: "12"},
		{name: "items", body: `{"items":[` + item + `]}`},
		{name: "bare list", body: `[` + item + `]`},
		{name: "hasMore false ignores cursor", body: `{"itemList":[` + item + `],"hasMore":false,"cursor":"9"}`},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := n.NormalizePage([]byte(tt.body), "explore", "us", collected)
			if err != nil {
				t.Fatalf("NormalizePage() error = %v", err)
			}
			if len(page.Records) != 1 || page.Records[0].VideoID != "v1" {
				t.Fatalf("Records = %+v, want one record v1", page.Records)
			}
			gotNext := ""
			if page.Next != nil {
				gotNext = page.Next.Token
			}
			if gotNext != tt.wantNext {
				t.Errorf("Next = %q, want %q", gotNext, tt.wantNext)
			}
		})
	}
}

func TestNormalizePage_Malformed(t *testing.T) {
	n := NewNormalizer()
	for _, body := range []string{`not json`, `{"unexpected":1}`, `"string"`, `{"status":"error","message":"quota"}`} {
		if _, err := n.NormalizePage([]byte(body), "explore", "us", collected); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("NormalizePage(%s) error = %v, want ErrMalformedResponse", body, err)
		}
	}
}

func TestNormalizePage_DropsAndCounts(t *testing.T) {
	created := collected.Add(-time.Hour).Unix()
	future := collected.Add(time.Hour).Unix()
	body := `{"itemList":[` +
		itemJSON("ok", created, 10) + `,` +
		`{"desc":"no id","createTime":1700000000},` +
		`{"id":"no-time"},` +
		`{"id":"bad-time","createTime":"yesterday"},` +
		itemJSON("future", future, 10) + `,` +
		itemJSON("ok", created, 20) +
		`]}`

	page, err := NewNormalizer().NormalizePage([]byte(body), "explore", "us", collected)
	if err != nil {
		t.Fatalf("NormalizePage() error = %v", err)
	}
	if page.RawCount != 6 {
		t.Errorf("RawCount = %d, want 6", page.RawCount)
	}
	if page.Dropped != 4 {
		t.Errorf("Dropped = %d, want 4", page.Dropped)
	}
	if len(page.Records) != 1 || page.Records[0].ViewCount != 10 {
		t.Errorf("Records = %+v, want only the first ok record", page.Records)
	}
}

func TestNormalize_FieldAliases(t *testing.T) {
	raw := map[string]any{
		"video_id":    "abc",
		"description": "hello",
		"create_time": "1748775600",
		"views":       "1200",
		"likes":       float64(30),
		"stats":       map[string]any{"commentCount": float64(4), "share_count": "2"},
		"author": map[string]any{
			"username":     "someone",
			"display_name": "Some One",
			"verified":     true,
		},
		"authorStats": map[string]any{"followerCount": float64(99)},
		"textExtra":   []any{map[string]any{"hashtagName": "#dance"}, map[string]any{"hashtagName": "fun"}},
		"hashtags":    []any{"dance", "#music"},
	}

	rec, err := NewNormalizer().Normalize(raw, "jp", collected)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if rec.VideoID != "abc" || rec.Description != "hello" {
		t.Errorf("identity fields = %q %q", rec.VideoID, rec.Description)
	}
	if !rec.CreatedAt.Equal(time.Unix(1748775600, 0)) {
		t.Errorf("CreatedAt = %v", rec.CreatedAt)
	}
	if rec.ViewCount != 1200 || rec.LikeCount != 30 || rec.CommentCount != 4 || rec.ShareCount != 2 {
		t.Errorf("counts = %d %d %d %d", rec.ViewCount, rec.LikeCount, rec.CommentCount, rec.ShareCount)
	}
	if rec.AuthorUsername != "someone" || rec.AuthorDisplayName != "Some One" || rec.AuthorFollowerCount != 99 || !rec.IsVerifiedAuthor {
		t.Errorf("author = %+v", rec)
	}
	if strings.Join(rec.Hashtags, ",") != "dance,fun,music" {
		t.Errorf("Hashtags = %v, want [dance fun music]", rec.Hashtags)
	}
	if rec.Region != "jp" || !rec.CollectedAt.Equal(collected) {
		t.Errorf("region/collected = %q %v", rec.Region, rec.CollectedAt)
	}
}

func TestNormalize_TruncatesDescription(t *testing.T) {
	raw := map[string]any{
		"id":         "x",
		"createTime": float64(collected.Add(-time.Minute).Unix()),
		"desc":       strings.Repeat("動", 150),
	}

	rec, err := NewNormalizer().Normalize(raw, "jp", collected)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if want := strings.Repeat("動", MaxDescriptionRunes) + "..."; rec.Description != want {
		t.Errorf("Description has %d runes, want truncated to %d plus ellipsis", len([]rune(rec.Description)), MaxDescriptionRunes)
	}
}

func TestNormalize_MissingCreatedAtIsNormalizationError(t *testing.T) {
	_, err := NewNormalizer().Normalize(map[string]any{"id": "x"}, "us", collected)

	var ne *NormalizationError
	if !errors.As(err, &ne) || ne.Field != "created_at" {
		t.Fatalf("Normalize() error = %v, want created_at NormalizationError", err)
	}
	if !errors.Is(err, ErrNormalization) {
		t.Errorf("error should match ErrNormalization")
	}
}

func TestDescribeHTML(t *testing.T) {
	got := describeHTML([]byte(`<html><head><title> Access denied </title></head></html>`))
	if got != `page title "Access denied"` {
		t.Errorf("describeHTML() = %q", got)
	}

	got = describeHTML([]byte(`plain   text error`))
	if got != `body "plain text error"` {
		t.Errorf("describeHTML() = %q", got)
	}
}
