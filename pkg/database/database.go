// Package database ties named tables together into one file-backed unit:
// create/drop tables, the direct insert/search bypass API, and whole-file
// persistence.
package database

import (
	"fmt"
	"sort"

	"github.com/mars/mars/pkg/errs"
	"github.com/mars/mars/pkg/graph"
	"github.com/mars/mars/pkg/schema"
	"github.com/mars/mars/pkg/table"
)

// ColumnDef describes one column of a table being created, mirroring the
// surface a CREATE TABLE statement would carry.
type ColumnDef struct {
	Name       string
	Type       schema.ColumnType
	Dimension  int
	PrimaryKey bool
	NotNull    bool
	Unique     bool
}

// TableInfo is introspection metadata returned by ShowTables.
type TableInfo struct {
	Name      string
	Rows      int
	Dimension int
}

// Database owns a set of named tables and the default graph configuration
// new tables are created with.
type Database struct {
	tables map[string]*table.Table
	config graph.Config
	path   string
}

// InMemory creates a database with no backing file; Save is a no-op.
func InMemory(config graph.Config) *Database {
	return &Database{tables: make(map[string]*table.Table), config: config}
}

// WithPath creates a database bound to path but does not read or write it;
// callers use Load/Save explicitly.
func WithPath(config graph.Config, path string) *Database {
	db := InMemory(config)
	db.path = path
	return db
}

// Path returns the database's backing file path, or "" if in-memory.
func (db *Database) Path() string { return db.path }

// CreateTable defines a new table from column definitions, locating its
// single vector column by type.
func (db *Database) CreateTable(name string, columns []ColumnDef) error {
	if _, exists := db.tables[name]; exists {
		return errs.New(errs.KindConstraintViolation, "database: table %q already exists", name)
	}

	cols := make([]schema.Column, len(columns))
	for i, cd := range columns {
		cols[i] = schema.Column{
			Name:       cd.Name,
			Type:       cd.Type,
			Dimension:  cd.Dimension,
			PrimaryKey: cd.PrimaryKey,
			NotNull:    cd.NotNull,
			Unique:     cd.Unique,
		}
	}

	s, err := schema.NewSchema(name, cols)
	if err != nil {
		return err
	}

	t, err := table.New(s, db.config)
	if err != nil {
		return err
	}
	db.tables[name] = t
	return nil
}

// DropTable removes a table. If ifExists is false, dropping an absent table
// is an error.
func (db *Database) DropTable(name string, ifExists bool) error {
	if _, ok := db.tables[name]; !ok {
		if ifExists {
			return nil
		}
		return errs.New(errs.KindNotFound, "database: table %q does not exist", name)
	}
	delete(db.tables, name)
	return nil
}

// GetTable returns the named table.
func (db *Database) GetTable(name string) (*table.Table, error) {
	t, ok := db.tables[name]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "database: table %q does not exist", name)
	}
	return t, nil
}

// TableNames returns every table name, sorted.
func (db *Database) TableNames() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ShowTables returns introspection metadata for every table.
func (db *Database) ShowTables() []TableInfo {
	names := db.TableNames()
	out := make([]TableInfo, 0, len(names))
	for _, name := range names {
		t := db.tables[name]
		out = append(out, TableInfo{
			Name:      name,
			Rows:      t.Len(),
			Dimension: t.Schema().VectorDimension(),
		})
	}
	return out
}

// InsertDirect builds a full row for table tableName from vector plus named
// metadata columns, leaving every other column Null, and inserts it.
func (db *Database) InsertDirect(tableName string, vector []float32, metadata map[string]schema.Value) (uint64, error) {
	t, err := db.GetTable(tableName)
	if err != nil {
		return 0, err
	}

	s := t.Schema()
	values := make([]schema.Value, len(s.Columns))
	for i := range values {
		values[i] = schema.Null()
	}
	values[s.VectorColumn] = schema.Vector(vector)

	for name, v := range metadata {
		idx := s.ColumnIndex(name)
		if idx < 0 {
			return 0, fmt.Errorf("database: table %q has no column %q", tableName, name)
		}
		values[idx] = v
	}

	return t.Insert(values)
}

// InsertBatchDirect inserts multiple vectors (with matching metadata) into
// tableName, stopping at the first failure.
func (db *Database) InsertBatchDirect(tableName string, vectors [][]float32, metadata []map[string]schema.Value) ([]uint64, error) {
	if metadata != nil && len(metadata) != len(vectors) {
		return nil, fmt.Errorf("database: metadata count %d does not match vector count %d", len(metadata), len(vectors))
	}

	ids := make([]uint64, 0, len(vectors))
	for i, v := range vectors {
		var md map[string]schema.Value
		if metadata != nil {
			md = metadata[i]
		}
		id, err := db.InsertDirect(tableName, v, md)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SearchSimilar runs an ANN query against tableName's vector column.
func (db *Database) SearchSimilar(tableName string, query []float32, k, searchBuffer int) ([]table.SimilarityResult, error) {
	t, err := db.GetTable(tableName)
	if err != nil {
		return nil, err
	}
	return t.SimilaritySelect(query, k, searchBuffer)
}
