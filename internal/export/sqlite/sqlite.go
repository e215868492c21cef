package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/robalyx/rewind/internal/export/types"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// FileName is the database file written into the output directory.
const FileName = "activities.db"

const batchSize = 1000

// Exporter writes activity records to a standalone SQLite database.
type Exporter struct {
	outDir string
}

// New creates a new SQLite exporter instance.
func New(outDir string) *Exporter {
	return &Exporter{outDir: outDir}
}

// Export replaces any previous export with the given records.
func (e *Exporter) Export(records []*types.Record) error {
	path := filepath.Join(e.outDir, FileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing file %s: %w", FileName, err)
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate|sqlite.OpenReadWrite)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	defer conn.Close()

	err = sqlitex.ExecuteScript(conn, `
		CREATE TABLE activities (
			activity_id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			world TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			action TEXT NOT NULL,
			cause TEXT NOT NULL,
			player_id TEXT,
			descriptor TEXT,
			material TEXT,
			replaced_material TEXT,
			entity_type TEXT,
			reversed INTEGER NOT NULL
		);
		CREATE INDEX idx_activities_coordinates ON activities (world, x, y, z);
		CREATE INDEX idx_activities_timestamp ON activities (timestamp);
	`, nil)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	for i := 0; i < len(records); i += batchSize {
		end := min(i+batchSize, len(records))
		if err := insertBatch(conn, records[i:end]); err != nil {
			return err
		}
	}

	return nil
}

// insertBatch writes records inside one transaction.
func insertBatch(conn *sqlite.Conn, records []*types.Record) (err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endFn(&err)

	for _, r := range records {
		err = sqlitex.Execute(conn, `
			INSERT INTO activities (
				activity_id, timestamp, world, x, y, z, action, cause, player_id,
				descriptor, material, replaced_material, entity_type, reversed
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					r.ID, r.Timestamp, r.World, r.X, r.Y, r.Z, r.Action, r.Cause, nullable(r.PlayerID),
					nullable(r.Descriptor), nullable(r.Material), nullable(r.Replaced), nullable(r.EntityType),
					r.Reversed,
				},
			})
		if err != nil {
			return fmt.Errorf("failed to insert record %d: %w", r.ID, err)
		}
	}

	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}
