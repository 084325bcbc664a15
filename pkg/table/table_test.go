package table

import (
	"testing"

	"github.com/mars/mars/pkg/graph"
	"github.com/mars/mars/pkg/schema"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	cols := []schema.Column{
		schema.NewColumn("id", schema.TypeInteger),
		{Name: "embedding", Type: schema.TypeVector, Dimension: 2},
		schema.NewColumn("label", schema.TypeText),
	}
	s, err := schema.NewSchema("docs", cols)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := New(s, graph.DefaultConfig(2))
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestInsertAndSelect(t *testing.T) {
	tbl := newTestTable(t)
	id1, err := tbl.Insert([]schema.Value{schema.Integer(1), schema.Vector([]float32{1, 0}), schema.Text("a")})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := tbl.Insert([]schema.Value{schema.Integer(2), schema.Vector([]float32{0, 1}), schema.Text("b")})
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatal("expected distinct row ids")
	}
	rows, err := tbl.FilteredSelect(nil, SelectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestInsertWrongArity(t *testing.T) {
	tbl := newTestTable(t)
	if _, err := tbl.Insert([]schema.Value{schema.Integer(1)}); err == nil {
		t.Fatal("expected arity error")
	}
}

func TestUniqueConstraint(t *testing.T) {
	cols := []schema.Column{
		{Name: "embedding", Type: schema.TypeVector, Dimension: 2},
		{Name: "email", Type: schema.TypeText, Unique: true},
	}
	s, _ := schema.NewSchema("u", cols)
	tbl, err := New(s, graph.DefaultConfig(2))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tbl.Insert([]schema.Value{schema.Vector([]float32{0, 0}), schema.Text("a@x")}); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Insert([]schema.Value{schema.Vector([]float32{1, 0}), schema.Text("a@x")}); err == nil {
		t.Fatal("expected UNIQUE constraint violation")
	}
	if _, err := tbl.Insert([]schema.Value{schema.Vector([]float32{1, 0}), schema.Text("b@x")}); err != nil {
		t.Fatal(err)
	}
	rows, _ := tbl.FilteredSelect(nil, SelectOptions{})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after rejected insert, got %d", len(rows))
	}
}

func TestNotNullConstraint(t *testing.T) {
	cols := []schema.Column{
		{Name: "embedding", Type: schema.TypeVector, Dimension: 2},
		{Name: "label", Type: schema.TypeText, NotNull: true},
	}
	s, _ := schema.NewSchema("t", cols)
	tbl, _ := New(s, graph.DefaultConfig(2))
	if _, err := tbl.Insert([]schema.Value{schema.Vector([]float32{0, 0}), schema.Null()}); err == nil {
		t.Fatal("expected NOT NULL violation")
	}
}

func TestSimilaritySelectTopMatch(t *testing.T) {
	tbl := newTestTable(t)
	for i := 0; i < 100; i++ {
		if _, err := tbl.Insert([]schema.Value{schema.Null(), schema.Vector([]float32{float32(i), float32(i)}), schema.Text("x")}); err != nil {
			t.Fatal(err)
		}
	}
	// Row i's auto-assigned id column is i+1 (ids start at 1), so the vector
	// (50,50) belongs to the row whose id is 51.
	results, err := tbl.SimilaritySelect([]float32{50, 50}, 1, 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if idVal, _ := results[0].Row.Values[0].AsInteger(); idVal != 51 {
		t.Errorf("expected top match id=51, got %d", idVal)
	}
}

func TestDeleteRemovesFromGraphAndRows(t *testing.T) {
	tbl := newTestTable(t)
	ids := make([]uint64, 0, 100)
	for i := 0; i < 100; i++ {
		id, err := tbl.Insert([]schema.Value{schema.Null(), schema.Vector([]float32{float32(i), float32(i)}), schema.Text("x")})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	count, err := tbl.Delete(func(row schema.Row) bool {
		v, _ := row.Values[0].AsInteger()
		return v == 51
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row deleted, got %d", count)
	}

	results, err := tbl.SimilaritySelect([]float32{50, 50}, 5, 64)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if v, _ := r.Row.Values[0].AsInteger(); v == 51 {
			t.Error("deleted row reappeared in similarity search")
		}
	}
	if tbl.Len() != 99 {
		t.Errorf("expected 99 rows, got %d", tbl.Len())
	}
}

func TestUpdateRejectsVectorColumn(t *testing.T) {
	tbl := newTestTable(t)
	if _, err := tbl.Insert([]schema.Value{schema.Integer(1), schema.Vector([]float32{0, 0}), schema.Text("a")}); err != nil {
		t.Fatal(err)
	}
	_, err := tbl.Update(map[string]schema.Value{"embedding": schema.Vector([]float32{1, 1})}, nil)
	if err == nil {
		t.Fatal("expected error updating vector column")
	}
}

func TestUpdateOverwritesNamedColumns(t *testing.T) {
	tbl := newTestTable(t)
	if _, err := tbl.Insert([]schema.Value{schema.Integer(1), schema.Vector([]float32{0, 0}), schema.Text("old")}); err != nil {
		t.Fatal(err)
	}
	count, err := tbl.Update(map[string]schema.Value{"label": schema.Text("new")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row updated, got %d", count)
	}
	rows, _ := tbl.FilteredSelect(nil, SelectOptions{})
	if v, _ := rows[0].Values[2].AsText(); v != "new" {
		t.Errorf("expected label=new, got %s", v)
	}
}

func TestFilteredSelectOrderLimitOffset(t *testing.T) {
	tbl := newTestTable(t)
	for i := 0; i < 10; i++ {
		if _, err := tbl.Insert([]schema.Value{schema.Null(), schema.Vector([]float32{float32(i), 0}), schema.Text("x")}); err != nil {
			t.Fatal(err)
		}
	}
	// Auto-assigned ids run 1..10.
	rows, err := tbl.FilteredSelect(nil, SelectOptions{
		OrderBy: &OrderBy{Column: "id", Descending: true},
		Limit:   3,
		Offset:  1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	first, _ := rows[0].Values[0].AsInteger()
	if first != 9 {
		t.Errorf("expected first row id=9 (offset past id=10), got %d", first)
	}
}

func TestRestoreFromRowsRebuildsGraph(t *testing.T) {
	tbl := newTestTable(t)
	for i := 0; i < 20; i++ {
		if _, err := tbl.Insert([]schema.Value{schema.Null(), schema.Vector([]float32{float32(i), float32(i)}), schema.Text("x")}); err != nil {
			t.Fatal(err)
		}
	}
	rows := tbl.AllRows()
	centroid := tbl.Graph().Centroid()

	restored, err := RestoreFromRows(tbl.Schema(), graph.DefaultConfig(2), rows, centroid, tbl.NextID())
	if err != nil {
		t.Fatal(err)
	}
	if restored.Len() != 20 {
		t.Fatalf("expected 20 rows restored, got %d", restored.Len())
	}
	// Auto-assigned ids run 1..20; vector (10,10) belongs to id=11.
	results, err := restored.SimilaritySelect([]float32{10, 10}, 1, 64)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := results[0].Row.Values[0].AsInteger(); v != 11 {
		t.Errorf("expected restored graph to find id=11 nearest, got %d", v)
	}
}
