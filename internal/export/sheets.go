package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/user/viral-detector-go/internal/config"
	"github.com/user/viral-detector-go/internal/model"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsExporter writes exports into a tab of a Google spreadsheet. The
// destination names the tab, which is created when missing.
type SheetsExporter struct {
	svc           *sheets.Service
	spreadsheetID string
	mode          Mode
}

// NewSheetsExporter creates a spreadsheet exporter authenticated with the
// configured service account file. Extra options are appended, which tests
// use to point the client at a local server.
func NewSheetsExporter(ctx context.Context, cfg *config.SheetsConfig, mode Mode, opts ...option.ClientOption) (*SheetsExporter, error) {
	base := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if cfg.CredentialsPath != "" {
		base = append(base, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	svc, err := sheets.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}

	if mode == "" {
		mode = ModeReplace
	}
	return &SheetsExporter{svc: svc, spreadsheetID: cfg.SpreadsheetID, mode: mode}, nil
}

// Name returns the exporter name
func (e *SheetsExporter) Name() string {
	return "sheets"
}

// Export writes rows to the tab named destination with one bulk write
func (e *SheetsExporter) Export(ctx context.Context, rows []*model.StoredVideo, destination string) error {
	created, err := e.ensureTab(ctx, destination)
	if err != nil {
		return e.fail(destination, err)
	}

	tab := quoteSheetName(destination)
	values := sheetValues(rows, e.mode == ModeReplace || created)

	if e.mode == ModeAppend {
		_, err = e.svc.Spreadsheets.Values.Append(e.spreadsheetID, tab+"!A1", &sheets.ValueRange{Values: values}).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		if err != nil {
			return e.fail(destination, err)
		}
	} else {
		if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, tab, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
			return e.fail(destination, err)
		}
		_, err = e.svc.Spreadsheets.Values.Update(e.spreadsheetID, tab+"!A1", &sheets.ValueRange{Values: values}).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return e.fail(destination, err)
		}
	}

	log.Info().
		Str("exporter", e.Name()).
		Str("spreadsheet", e.spreadsheetID).
		Str("tab", destination).
		Int("rows", len(rows)).
		Msg("Exported to spreadsheet")
	return nil
}

// ensureTab adds the tab when the spreadsheet does not have it yet and
// reports whether it did so
func (e *SheetsExporter) ensureTab(ctx context.Context, name string) (bool, error) {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return false, err
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == name {
			return false, nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: name},
			},
		}},
	}
	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return false, err
	}
	log.Info().Str("tab", name).Msg("Created spreadsheet tab")
	return true, nil
}

func (e *SheetsExporter) fail(destination string, err error) error {
	return &ExportError{Exporter: e.Name(), Destination: destination, Err: classifyGoogleError(err)}
}

func classifyGoogleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrDestinationNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrDestinationUnreachable, err)
}

func quoteSheetName(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// sheetValues renders rows as cells, keeping numeric columns numeric
func sheetValues(rows []*model.StoredVideo, header bool) [][]interface{} {
	values := make([][]interface{}, 0, len(rows)+1)
	if header {
		h := make([]interface{}, len(Header))
		for i, col := range Header {
			h[i] = col
		}
		values = append(values, h)
	}

	for _, v := range rows {
		row := Row(v)
		cells := make([]interface{}, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		cells[2] = v.ViewCount
		cells[3] = v.LikeCount
		cells[4] = v.CommentCount
		cells[5] = v.ShareCount
		cells[7] = v.AuthorFollowerCount
		values = append(values, cells)
	}
	return values
}
