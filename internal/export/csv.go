package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/user/viral-detector-go/internal/model"
)

// utf8BOM lets spreadsheet applications detect the encoding
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVExporter writes exports as comma-separated files under a directory
type CSVExporter struct {
	dir  string
	mode Mode
}

// NewCSVExporter creates a CSV exporter writing under dir
func NewCSVExporter(dir string, mode Mode) *CSVExporter {
	if mode == "" {
		mode = ModeReplace
	}
	return &CSVExporter{dir: dir, mode: mode}
}

// Name returns the exporter name
func (e *CSVExporter) Name() string {
	return "csv"
}

// Export writes rows to the file named destination
func (e *CSVExporter) Export(ctx context.Context, rows []*model.StoredVideo, destination string) error {
	path := destination
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.dir, destination)
	}

	if err := ctx.Err(); err != nil {
		return &ExportError{Exporter: e.Name(), Destination: path, Err: err}
	}

	var err error
	if e.mode == ModeAppend {
		err = e.append(path, rows)
	} else {
		err = e.replace(path, rows)
	}
	if err != nil {
		return &ExportError{Exporter: e.Name(), Destination: path, Err: classifyFSError(err)}
	}

	log.Info().Str("exporter", e.Name()).Str("path", path).Int("rows", len(rows)).Msg("Exported CSV")
	return nil
}

func (e *CSVExporter) replace(path string, rows []*model.StoredVideo) error {
	w, err := newAtomicWriter(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(w, rows, true); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

func (e *CSVExporter) append(path string, rows []*model.StoredVideo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	if err := WriteCSV(f, rows, info.Size() == 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCSV writes rows as CSV. With header set the output starts with a
// byte order mark and the header row.
func WriteCSV(w io.Writer, rows []*model.StoredVideo, header bool) error {
	if header {
		if _, err := w.Write(utf8BOM); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(Header); err != nil {
			return err
		}
	}
	for _, v := range rows {
		if err := cw.Write(Row(v)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func classifyFSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrDestinationNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrDestinationUnreachable, err)
	}
}
