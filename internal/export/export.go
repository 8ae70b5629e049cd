package export

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/user/viral-detector-go/internal/model"
)

var (
	// ErrDestinationUnreachable covers transport and I/O failures
	ErrDestinationUnreachable = errors.New("destination unreachable")
	// ErrPermissionDenied means the credentials cannot write the destination
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDestinationNotFound means the destination container does not exist
	ErrDestinationNotFound = errors.New("destination not found")
)

// ExportError wraps a failed export with its exporter and destination
type ExportError struct {
	Exporter    string
	Destination string
	Err         error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("%s export to %q failed: %v", e.Exporter, e.Destination, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// Exporter writes an ordered set of rows to one destination in bulk
type Exporter interface {
	Name() string
	Export(ctx context.Context, rows []*model.StoredVideo, destination string) error
}

// Mode selects whether an export replaces or extends the destination
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
)

// Header is the fixed column order of every tabular export
var Header = []string{
	"video_id",
	"description",
	"view_count",
	"like_count",
	"comment_count",
	"share_count",
	"author_username",
	"follower_count",
	"post_time",
	"elapsed_hours",
	"velocity",
	"video_url",
	"hashtags",
	"verified",
}

// PostTimeLayout formats the post time column
const PostTimeLayout = "2006-01-02 15:04:05"

// Row renders v in Header order
func Row(v *model.StoredVideo) []string {
	verified := ""
	if v.IsVerifiedAuthor {
		verified = "✓"
	}
	return []string{
		v.VideoID,
		v.Description,
		strconv.FormatInt(v.ViewCount, 10),
		strconv.FormatInt(v.LikeCount, 10),
		strconv.FormatInt(v.CommentCount, 10),
		strconv.FormatInt(v.ShareCount, 10),
		v.AuthorUsername,
		strconv.FormatInt(v.AuthorFollowerCount, 10),
		v.PostedAt.UTC().Format(PostTimeLayout),
		strconv.FormatFloat(v.ElapsedHours, 'f', 1, 64),
		strconv.FormatFloat(v.Velocity, 'f', 0, 64),
		v.URL(),
		strings.Join(v.Hashtags, ", "),
		verified,
	}
}

// Table renders the header followed by one row per video
func Table(rows []*model.StoredVideo) [][]string {
	table := make([][]string, 0, len(rows)+1)
	table = append(table, Header)
	for _, v := range rows {
		table = append(table, Row(v))
	}
	return table
}

// DestinationName expands {timestamp}, {date} and {run_id} in pattern
func DestinationName(pattern, runID string, now time.Time) string {
	return strings.NewReplacer(
		"{timestamp}", now.Format("20060102_150405"),
		"{date}", now.Format("20060102"),
		"{run_id}", runID,
	).Replace(pattern)
}
