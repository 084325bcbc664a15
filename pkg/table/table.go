// Package table implements one typed relation: a schema, its backing rows,
// and the single ANN graph over its vector column.
package table

import (
	"fmt"
	"sort"

	"github.com/mars/mars/pkg/errs"
	"github.com/mars/mars/pkg/graph"
	"github.com/mars/mars/pkg/schema"
)

// Predicate reports whether row matches a filter. A nil predicate matches
// every row.
type Predicate func(row schema.Row) bool

// OrderBy names a sort column and direction for FilteredSelect.
type OrderBy struct {
	Column     string
	Descending bool
}

// SelectOptions controls FilteredSelect's post-filter processing.
type SelectOptions struct {
	OrderBy  *OrderBy
	Limit    int // 0 means unlimited
	Offset   int
	Distinct bool
	Columns  []string // projection; nil means all columns
}

// SimilarityResult pairs a row with its distance to the query vector.
type SimilarityResult struct {
	Row      schema.Row
	Distance float32
}

// Table is one schema's worth of rows, plus the ANN index over its vector
// column.
type Table struct {
	schema schema.Schema
	graph  *graph.Graph
	rows   map[uint64]schema.Row
	nextID uint64
}

// New creates an empty table. cfg.Dimension is overwritten with the schema's
// declared vector dimension.
func New(s schema.Schema, cfg graph.Config) (*Table, error) {
	if !s.HasVectorColumn() {
		return nil, fmt.Errorf("table %q: schema has no vector column", s.Name)
	}
	cfg.Dimension = s.VectorDimension()
	return &Table{
		schema: s,
		graph:  graph.New(cfg),
		rows:   make(map[uint64]schema.Row),
		nextID: 1,
	}, nil
}

// Schema returns the table's schema.
func (t *Table) Schema() schema.Schema { return t.schema }

// Graph returns the table's ANN index.
func (t *Table) Graph() *graph.Graph { return t.graph }

// Len returns the number of live rows.
func (t *Table) Len() int { return len(t.rows) }

// Insert validates and stores one row, returning its assigned row id.
// values must align with the schema's column order; any column not present
// is left Null and then must not violate NOT NULL.
func (t *Table) Insert(values []schema.Value) (uint64, error) {
	if len(values) != len(t.schema.Columns) {
		return 0, fmt.Errorf("table %q: expected %d values, got %d", t.schema.Name, len(t.schema.Columns), len(values))
	}

	row := append([]schema.Value(nil), values...)
	id := t.nextID
	if idx := t.schema.ColumnIndex("id"); idx >= 0 && t.schema.Columns[idx].Type == schema.TypeInteger {
		row[idx] = schema.Integer(int64(id))
	}

	if err := t.checkConstraints(row, nil); err != nil {
		return 0, err
	}

	vec, ok := row[t.schema.VectorColumn].AsVector()
	if !ok {
		return 0, errs.New(errs.KindDimensionMismatch, "table %q: vector column %q is not a vector value", t.schema.Name, t.schema.Columns[t.schema.VectorColumn].Name)
	}

	nodeID, err := t.graph.Insert(vec)
	if err != nil {
		return 0, err
	}

	t.nextID++
	t.rows[id] = schema.Row{ID: id, Values: row, NodeID: uint32(nodeID)}
	return id, nil
}

// checkConstraints scans existing rows for PRIMARY KEY / UNIQUE collisions
// and NOT NULL violations. excludeID, when non-nil, skips that row (used by
// Update so a row doesn't collide with itself).
func (t *Table) checkConstraints(values []schema.Value, excludeID *uint64) error {
	for i, col := range t.schema.Columns {
		v := values[i]
		if (col.PrimaryKey || col.NotNull) && v.IsNull() {
			return errs.New(errs.KindConstraintViolation, "table %q: column %q violates NOT NULL", t.schema.Name, col.Name)
		}
		if !col.PrimaryKey && !col.Unique {
			continue
		}
		if v.IsNull() {
			continue
		}
		for id, row := range t.rows {
			if excludeID != nil && id == *excludeID {
				continue
			}
			if row.Values[i].Equal(v) {
				return errs.New(errs.KindConstraintViolation, "table %q: column %q violates %s constraint", t.schema.Name, col.Name, constraintName(col))
			}
		}
	}
	return nil
}

func constraintName(col schema.Column) string {
	if col.PrimaryKey {
		return "PRIMARY KEY"
	}
	return "UNIQUE"
}

// FilteredSelect scans rows matching pred (nil matches all), applying order,
// offset, limit, distinct-by-projection and column projection per opts.
func (t *Table) FilteredSelect(pred Predicate, opts SelectOptions) ([]schema.Row, error) {
	matched := make([]schema.Row, 0, len(t.rows))
	for _, row := range t.rows {
		if pred == nil || pred(row) {
			matched = append(matched, row)
		}
	}

	// Stable row-id order before any explicit ORDER BY, so pagination is
	// deterministic across calls.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if opts.OrderBy != nil {
		idx := t.schema.ColumnIndex(opts.OrderBy.Column)
		if idx < 0 {
			return nil, fmt.Errorf("table %q: unknown order-by column %q", t.schema.Name, opts.OrderBy.Column)
		}
		sort.SliceStable(matched, func(i, j int) bool {
			cmp, ok := matched[i].Values[idx].Compare(matched[j].Values[idx])
			if !ok {
				return false
			}
			if opts.OrderBy.Descending {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if opts.Distinct {
		matched = distinctRows(matched, opts.Columns, t.schema)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	return project(matched, opts.Columns, t.schema), nil
}

func distinctRows(rows []schema.Row, columns []string, s schema.Schema) []schema.Row {
	seen := make(map[string]bool, len(rows))
	out := make([]schema.Row, 0, len(rows))
	for _, row := range rows {
		key := canonicalKey(row, columns, s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out
}

func canonicalKey(row schema.Row, columns []string, s schema.Schema) string {
	indices := columnIndices(columns, s)
	key := make([]byte, 0, 32)
	for _, i := range indices {
		key = append(key, []byte(fmt.Sprintf("%s\x1f", valueKey(row.Values[i])))...)
	}
	return string(key)
}

func valueKey(v schema.Value) string {
	if v.IsNull() {
		return "\x00null"
	}
	return v.TypeName() + ":" + fmt.Sprint(v)
}

func columnIndices(columns []string, s schema.Schema) []int {
	if len(columns) == 0 {
		idx := make([]int, len(s.Columns))
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, 0, len(columns))
	for _, name := range columns {
		if i := s.ColumnIndex(name); i >= 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

func project(rows []schema.Row, columns []string, s schema.Schema) []schema.Row {
	if len(columns) == 0 {
		return rows
	}
	indices := columnIndices(columns, s)
	out := make([]schema.Row, len(rows))
	for i, row := range rows {
		values := make([]schema.Value, len(indices))
		for j, idx := range indices {
			values[j] = row.Values[idx]
		}
		out[i] = schema.Row{ID: row.ID, Values: values, NodeID: row.NodeID}
	}
	return out
}

// SimilaritySelect runs an ANN query against the table's graph and returns
// the k nearest rows annotated with their distance.
func (t *Table) SimilaritySelect(query []float32, k, searchBuffer int) ([]SimilarityResult, error) {
	candidates, err := t.graph.Query(query, k, searchBuffer)
	if err != nil {
		return nil, err
	}

	byNode := make(map[uint32]schema.Row, len(t.rows))
	for _, row := range t.rows {
		byNode[row.NodeID] = row
	}

	out := make([]SimilarityResult, 0, len(candidates))
	for _, c := range candidates {
		row, ok := byNode[uint32(c.ID)]
		if !ok {
			continue
		}
		out = append(out, SimilarityResult{Row: row, Distance: c.Distance})
	}
	return out, nil
}

// Update overwrites the named columns for every row matching pred, and
// returns the number of rows changed. Updating the vector column is
// rejected: doing so in place would require rewriting the graph edges and
// re-binding the rowId<->NodeId mapping atomically.
func (t *Table) Update(assignments map[string]schema.Value, pred Predicate) (int, error) {
	if _, touchesVector := assignments[t.schema.Columns[t.schema.VectorColumn].Name]; touchesVector {
		return 0, fmt.Errorf("table %q: updating the vector column is not supported", t.schema.Name)
	}

	indexed := make(map[int]schema.Value, len(assignments))
	for name, v := range assignments {
		idx := t.schema.ColumnIndex(name)
		if idx < 0 {
			return 0, fmt.Errorf("table %q: unknown column %q", t.schema.Name, name)
		}
		indexed[idx] = v
	}

	count := 0
	for id, row := range t.rows {
		if pred != nil && !pred(row) {
			continue
		}
		updated := append([]schema.Value(nil), row.Values...)
		for idx, v := range indexed {
			updated[idx] = v
		}
		if err := t.checkConstraints(updated, &id); err != nil {
			return count, err
		}
		row.Values = updated
		t.rows[id] = row
		count++
	}
	return count, nil
}

// Delete removes every row matching pred from both the row map and the
// graph, returning the number of rows removed.
func (t *Table) Delete(pred Predicate) (int, error) {
	var toDelete []uint64
	for id, row := range t.rows {
		if pred == nil || pred(row) {
			toDelete = append(toDelete, id)
		}
	}
	count := 0
	for _, id := range toDelete {
		row := t.rows[id]
		if err := t.graph.Delete(graph.NodeId(row.NodeID)); err != nil {
			return count, err
		}
		delete(t.rows, id)
		count++
	}
	return count, nil
}

// AllRows returns every live row, ordered by row id. Used by the persistence
// codec, which snapshots the full table on every save.
func (t *Table) AllRows() []schema.Row {
	out := make([]schema.Row, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextID returns the row id that will be assigned to the next Insert.
func (t *Table) NextID() uint64 { return t.nextID }

// Compact rebuilds the table's graph from scratch using only its live rows,
// discarding tombstoned node slots accumulated by prior deletes. Row ids and
// values are unaffected; only NodeID bindings and the graph's internal node
// pool are replaced.
func (t *Table) Compact() error {
	rows := t.AllRows()
	vectors := make([][]float32, len(rows))
	for i, row := range rows {
		vec, ok := row.Values[t.schema.VectorColumn].AsVector()
		if !ok {
			return fmt.Errorf("table %q: row %d has a non-vector value in the vector column", t.schema.Name, row.ID)
		}
		vectors[i] = vec
	}

	g, ids, err := graph.Rebuild(t.graph.Config(), vectors)
	if err != nil {
		return err
	}
	t.graph = g

	for i, row := range rows {
		row.NodeID = uint32(ids[i])
		t.rows[row.ID] = row
	}
	return nil
}

// RestoreFromRows rebuilds the table's row map, graph, and next-id counter
// from a persisted snapshot. It is only valid to call on a freshly
// constructed table.
func RestoreFromRows(s schema.Schema, cfg graph.Config, rows []schema.Row, centroid []float32, nextID uint64) (*Table, error) {
	t, err := New(s, cfg)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(rows))
	for i, row := range rows {
		vec, ok := row.Values[s.VectorColumn].AsVector()
		if !ok {
			return nil, fmt.Errorf("table %q: row %d has a non-vector value in the vector column", s.Name, row.ID)
		}
		vectors[i] = vec
	}

	g, ids, err := graph.Rebuild(graph.Config{
		Dimension:    cfg.Dimension,
		MaxNeighbors: cfg.MaxNeighbors,
		AlphaStrict:  cfg.AlphaStrict,
		AlphaRelaxed: cfg.AlphaRelaxed,
		SearchBuffer: cfg.SearchBuffer,
		DistanceKind: cfg.DistanceKind,
	}, vectors)
	if err != nil {
		return nil, err
	}
	t.graph = g

	for i, row := range rows {
		row.NodeID = uint32(ids[i])
		t.rows[row.ID] = row
	}
	t.nextID = nextID
	if len(centroid) > 0 {
		t.graph.SetCentroid(centroid)
	}
	return t, nil
}
