package database

import (
	"bufio"
	"fmt"
	"os"

	"github.com/mars/mars/pkg/codec"
	"github.com/mars/mars/pkg/errs"
	"github.com/mars/mars/pkg/graph"
	"github.com/mars/mars/pkg/table"
)

// Open loads an existing database file at path if one exists, or creates a
// fresh empty database bound to that path (and persists it immediately)
// otherwise.
func Open(config graph.Config, path string) (*Database, error) {
	if _, err := os.Stat(path); err == nil {
		db := WithPath(config, path)
		if loadErr := db.Load(); loadErr != nil {
			return nil, loadErr
		}
		return db, nil
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.KindIO, err, "database: stat %q", path)
	}

	db := WithPath(config, path)
	if err := db.Save(); err != nil {
		return nil, err
	}
	return db, nil
}

// Save rewrites the whole database file at db.Path(), atomically: it writes
// to a temp file in the same directory and renames it into place on
// success, so a crash mid-write never leaves a half-written database behind.
// A path-less (in-memory) database saves as a no-op, matching the teacher's
// own in-memory early return.
func (db *Database) Save() error {
	if db.path == "" {
		return nil
	}

	blocks := make([]codec.TableBlock, 0, len(db.tables))
	for _, name := range db.TableNames() {
		t := db.tables[name]
		blocks = append(blocks, codec.TableBlock{
			Name:     name,
			Schema:   t.Schema(),
			Rows:     t.AllRows(),
			Centroid: t.Graph().Centroid(),
			NextID:   t.NextID(),
		})
	}

	tmpPath := db.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "database: create temp file")
	}

	bw := bufio.NewWriter(f)
	if err := codec.WriteDatabase(bw, blocks); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write database failed: %v (close failed: %v)", err, closeErr)
		}
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("write database failed: %v (cleanup failed: %v)", err, rmErr)
		}
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("database: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("database: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("close temp file failed: %v (cleanup failed: %v)", err, rmErr)
		}
		return fmt.Errorf("database: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, db.path); err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("rename failed: %v (cleanup failed: %v)", err, rmErr)
		}
		return fmt.Errorf("database: rename temp file into place: %w", err)
	}
	return nil
}

// Load replaces db's tables with the contents of the file at db.Path(),
// rebuilding each table's graph from its persisted rows.
func (db *Database) Load() error {
	if db.path == "" {
		return errs.New(errs.KindInvalidConfig, "database: cannot load an in-memory database")
	}

	f, err := os.Open(db.path)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "database: open")
	}
	defer f.Close()

	blocks, err := codec.ReadDatabase(bufio.NewReader(f))
	if err != nil {
		return errs.Wrap(errs.KindInvalidFormat, err, "database: read")
	}

	tables := make(map[string]*table.Table, len(blocks))
	for _, b := range blocks {
		cfg := db.config
		cfg.Dimension = b.Schema.VectorDimension()
		t, err := table.RestoreFromRows(b.Schema, cfg, b.Rows, b.Centroid, b.NextID)
		if err != nil {
			return fmt.Errorf("database: restore table %q: %w", b.Name, err)
		}
		tables[b.Name] = t
	}
	db.tables = tables
	return nil
}
