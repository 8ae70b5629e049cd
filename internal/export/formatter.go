package export

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/user/viral-detector-go/internal/model"
)

// MaxMessageLength is the Telegram message size limit
const MaxMessageLength = 4096

// EscapeMarkdown escapes special characters for Telegram MarkdownV2 format
func EscapeMarkdown(text string) string {
	// Characters that need to be escaped in MarkdownV2:
	// \ _ * [ ] ( ) ~ ` > # + - = | { } . !
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	result := text
	for _, char := range specialChars {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}
	return result
}

// FormatVideoEntry formats one ranked video for the digest
func FormatVideoEntry(rank int, v *model.StoredVideo) string {
	if v == nil {
		return ""
	}

	var parts []string

	title := v.Description
	if title == "" {
		title = v.VideoID
	}
	parts = append(parts, fmt.Sprintf("%d\\. *%s*", rank, EscapeMarkdown(title)))

	stats := fmt.Sprintf("👁 %s views in %sh", formatCount(v.ViewCount), formatHours(v.ElapsedHours))
	stats += fmt.Sprintf(" ⚡ %s/h", formatCount(int64(v.Velocity)))
	parts = append(parts, EscapeMarkdown(stats))

	// Author if present
	if v.AuthorUsername != "" {
		author := "@" + v.AuthorUsername
		if v.IsVerifiedAuthor {
			author += " ✓"
		}
		parts = append(parts, "👤 "+EscapeMarkdown(author))
	}

	// Hashtags if present
	if len(v.Hashtags) > 0 {
		tags := make([]string, 0, len(v.Hashtags))
		for _, t := range v.Hashtags {
			tags = append(tags, "#"+t)
		}
		parts = append(parts, "🏷 "+EscapeMarkdown(strings.Join(tags, " ")))
	}

	parts = append(parts, "🔗 "+EscapeMarkdown(v.URL()))

	return strings.Join(parts, "\n")
}

// FormatDigest renders the digest for rows as one or more messages, each
// within MaxMessageLength. total is the size of the full export.
func FormatDigest(title string, rows []*model.StoredVideo, total int) []string {
	header := fmt.Sprintf("🔥 *%s*\n", EscapeMarkdown(title))
	if total == 0 {
		return []string{header + EscapeMarkdown("No viral videos found in this run.")}
	}
	header += EscapeMarkdown(fmt.Sprintf("Top %d of %d videos", len(rows), total))

	var messages []string
	current := header
	entries := 0
	for i, v := range rows {
		entry := FormatVideoEntry(i+1, v)
		if entries > 0 && len(current)+2+len(entry) > MaxMessageLength {
			messages = append(messages, current)
			current, entries = "", 0
		}
		if current != "" {
			current += "\n\n"
		}
		current += truncateEntry(entry, MaxMessageLength-len(current))
		entries++
	}
	return append(messages, current)
}

// truncateEntry cuts s to at most max bytes on a rune boundary without
// leaving a dangling MarkdownV2 escape
func truncateEntry(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	s = s[:cut]
	if backslashes := len(s) - len(strings.TrimRight(s, "\\")); backslashes%2 == 1 {
		s = s[:len(s)-1]
	}
	return s
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func formatHours(h float64) string {
	return fmt.Sprintf("%.1f", h)
}
