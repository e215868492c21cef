package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/export/csv"
	"github.com/robalyx/rewind/internal/export/sqlite"
	"github.com/robalyx/rewind/internal/export/types"
	"go.uber.org/zap"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format represents a supported export format.
type Format string

const (
	FormatSQLite Format = "sqlite"
	FormatCSV    Format = "csv"
)

// ManifestFile is the JSON description written next to the exported files.
const ManifestFile = "export.json"

// EngineVersion is bumped on breaking changes to the export layout.
const EngineVersion = "1.0.0"

// Store queries raw activities.
type Store interface {
	QueryActivities(ctx context.Context, q *activity.Query) ([]*activity.Activity, error)
}

// Manifest describes one export.
type Manifest struct {
	EngineVersion string   `json:"engineVersion"`
	Query         string   `json:"query"`
	ExportedAt    int64    `json:"exportedAt"`
	Records       int      `json:"records"`
	Formats       []Format `json:"formats"`
}

// Exporter writes query results to files.
type Exporter struct {
	store   Store
	outDir  string
	formats []Format
	logger  *zap.Logger
}

// New creates a new exporter. No formats means all of them.
func New(store Store, outDir string, logger *zap.Logger, formats ...Format) *Exporter {
	if len(formats) == 0 {
		formats = []Format{FormatSQLite, FormatCSV}
	}

	return &Exporter{
		store:   store,
		outDir:  outDir,
		formats: formats,
		logger:  logger.Named("export"),
	}
}

// ParseFormats parses a comma separated format list.
func ParseFormats(raw string) ([]Format, error) {
	var formats []Format

	for part := range strings.SplitSeq(raw, ",") {
		format := Format(strings.TrimSpace(strings.ToLower(part)))
		switch format {
		case FormatSQLite, FormatCSV:
			formats = append(formats, format)
		case "":
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
		}
	}

	return formats, nil
}

// Export runs the query and writes every configured format. The label is recorded in the manifest.
func (e *Exporter) Export(ctx context.Context, q *activity.Query, label string) (*Manifest, error) {
	activities, err := e.store.QueryActivities(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}

	records := types.FromActivities(activities)

	e.logger.Info("Exporting activities",
		zap.Int("records", len(records)),
		zap.String("outDir", e.outDir),
		zap.Any("formats", e.formats))

	if err := os.MkdirAll(e.outDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, format := range e.formats {
		if err := e.export(format, records); err != nil {
			return nil, fmt.Errorf("failed to export %s format: %w", format, err)
		}
	}

	manifest := &Manifest{
		EngineVersion: EngineVersion,
		Query:         label,
		ExportedAt:    time.Now().Unix(),
		Records:       len(records),
		Formats:       e.formats,
	}

	data, err := sonic.ConfigStd.MarshalIndent(manifest, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(e.outDir, ManifestFile), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write export manifest: %w", err)
	}

	return manifest, nil
}

// export writes records in one format.
func (e *Exporter) export(format Format, records []*types.Record) error {
	var exporter interface {
		Export(records []*types.Record) error
	}

	switch format {
	case FormatSQLite:
		exporter = sqlite.New(e.outDir)
	case FormatCSV:
		exporter = csv.New(e.outDir)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return exporter.Export(records)
}
