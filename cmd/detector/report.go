package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/user/viral-detector-go/internal/model"
	"github.com/user/viral-detector-go/internal/pipeline"
)

// printSummary writes the end-of-run report
func printSummary(w io.Writer, s *pipeline.Summary) {
	if s == nil {
		return
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(w, "Run %s: %s in %s\n", s.RunID, outcomeLabel(s.Outcome), s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", 60))

	// export-only runs have no regions
	if len(s.Regions) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "region\tpages\tprocessed\tdropped\tskipped\tviral\tstatus\t")
		for _, r := range s.Regions {
			status := "ok"
			if r.Err != nil {
				status = "stopped early"
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t\n",
				strings.ToUpper(r.Region), r.Pages, r.Processed, r.Dropped, r.Skipped, r.Viral, status)
		}
		fmt.Fprintf(tw, "total\t\t%d\t%d\t%d\t%d\t\t\n", s.Processed(), s.Dropped(), s.Skipped(), s.Viral())
		tw.Flush()
	}

	fmt.Fprintf(w, "\nStored videos: %d (%d viral)\n", s.Totals.Total, s.Totals.Viral)

	if len(s.TopViral) == 0 {
		fmt.Fprintln(w, "No viral videos found.")
	} else {
		fmt.Fprintf(w, "\nTop %d viral videos:\n", len(s.TopViral))
		var velocity float64
		for i, v := range s.TopViral {
			velocity += v.Velocity
			fmt.Fprintf(w, "%d. %s views in %.1fh (%s/h) @%s\n   %s\n",
				i+1, groupDigits(v.ViewCount), v.ElapsedHours, groupDigits(int64(v.Velocity)), v.AuthorUsername, v.URL())
		}
		fmt.Fprintf(w, "Average velocity: %s views/hour\n", groupDigits(int64(velocity/float64(len(s.TopViral)))))
	}

	if len(s.Exports) > 0 {
		fmt.Fprintln(w, "\nExports:")
		for _, e := range s.Exports {
			if e.Err != nil {
				fmt.Fprintf(w, "  %s -> %s: FAILED (%v)\n", e.Exporter, e.Destination, e.Err)
				continue
			}
			fmt.Fprintf(w, "  %s -> %s: %d rows\n", e.Exporter, e.Destination, e.Rows)
		}
	}

	if s.FailReason != "" {
		fmt.Fprintf(w, "\nFailure: %s\n", s.FailReason)
	}
}

func outcomeLabel(o model.RunOutcome) string {
	switch o {
	case model.RunOutcomeSuccess:
		return "success"
	case model.RunOutcomePartialSuccess:
		return "partial success"
	default:
		return "FAILED"
	}
}

// groupDigits formats n with thousands separators
func groupDigits(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
