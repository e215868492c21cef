package csv

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robalyx/rewind/internal/export/types"
)

// FileName is the csv file written into the output directory.
const FileName = "activities.csv"

// Header lists the csv columns in order.
var Header = []string{
	"activity_id", "time", "world", "x", "y", "z", "action", "cause",
	"player_id", "descriptor", "material", "replaced_material", "entity_type", "reversed",
}

// Exporter writes activity records to a csv file.
type Exporter struct {
	outDir string
}

// New creates a new csv exporter instance.
func New(outDir string) *Exporter {
	return &Exporter{outDir: outDir}
}

// Export replaces any previous export with the given records.
func (e *Exporter) Export(records []*types.Record) error {
	file, err := os.Create(filepath.Join(e.outDir, FileName))
	if err != nil {
		return fmt.Errorf("failed to create csv file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range records {
		if err := writer.Write([]string{
			strconv.FormatInt(r.ID, 10),
			time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
			r.World,
			strconv.Itoa(r.X),
			strconv.Itoa(r.Y),
			strconv.Itoa(r.Z),
			r.Action,
			r.Cause,
			r.PlayerID,
			r.Descriptor,
			r.Material,
			r.Replaced,
			r.EntityType,
			strconv.FormatBool(r.Reversed),
		}); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	return nil
}
