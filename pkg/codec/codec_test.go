package codec

import (
	"bytes"
	"testing"

	"github.com/mars/mars/pkg/schema"
)

func sampleSchema(t *testing.T) schema.Schema {
	t.Helper()
	cols := []schema.Column{
		schema.NewColumn("id", schema.TypeInteger),
		{Name: "embedding", Type: schema.TypeVector, Dimension: 3},
		{Name: "label", Type: schema.TypeText, Unique: true},
	}
	s, err := schema.NewSchema("docs", cols)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRoundTripSingleTable(t *testing.T) {
	s := sampleSchema(t)
	rows := []schema.Row{
		{ID: 1, NodeID: 0, Values: []schema.Value{schema.Integer(1), schema.Vector([]float32{1, 2, 3}), schema.Text("a")}},
		{ID: 2, NodeID: 1, Values: []schema.Value{schema.Integer(2), schema.Vector([]float32{4, 5, 6}), schema.Null()}},
	}
	block := TableBlock{Name: "docs", Schema: s, Rows: rows, Centroid: []float32{2.5, 3.5, 4.5}, NextID: 3}

	var buf bytes.Buffer
	if err := WriteDatabase(&buf, []TableBlock{block}); err != nil {
		t.Fatal(err)
	}

	got, err := ReadDatabase(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 table, got %d", len(got))
	}
	if got[0].Name != "docs" {
		t.Errorf("expected name docs, got %s", got[0].Name)
	}
	if len(got[0].Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got[0].Rows))
	}
	if got[0].NextID != 3 {
		t.Errorf("expected next id 3, got %d", got[0].NextID)
	}
	v, ok := got[0].Rows[0].Values[1].AsVector()
	if !ok || v[0] != 1 || v[1] != 2 || v[2] != 3 {
		t.Errorf("vector round trip mismatch: %+v", v)
	}
	if !got[0].Rows[1].Values[2].IsNull() {
		t.Error("expected second row's label to round-trip as Null")
	}
}

func TestRoundTripMultipleTables(t *testing.T) {
	s := sampleSchema(t)
	a := TableBlock{Name: "a", Schema: s, NextID: 1}
	b := TableBlock{Name: "b", Schema: s, NextID: 1}

	var buf bytes.Buffer
	if err := WriteDatabase(&buf, []TableBlock{a, b}); err != nil {
		t.Fatal(err)
	}
	got, err := ReadDatabase(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("unexpected round trip result: %+v", got)
	}
}

func TestReadDatabaseRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("not a mars file at all!!!!")
	if _, err := ReadDatabase(buf); err == nil {
		t.Fatal("expected error for bad magic bytes")
	}
}

func TestReadDatabaseDetectsCorruption(t *testing.T) {
	s := sampleSchema(t)
	block := TableBlock{Name: "docs", Schema: s, NextID: 1}

	var buf bytes.Buffer
	if err := WriteDatabase(&buf, []TableBlock{block}); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	// Flip the last byte, which belongs to the block's trailing checksum, so
	// the stored and recomputed checksums no longer match.
	data[len(data)-1] ^= 0xFF

	if _, err := ReadDatabase(bytes.NewReader(data)); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestEmptyDatabase(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDatabase(&buf, nil); err != nil {
		t.Fatal(err)
	}
	got, err := ReadDatabase(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected 0 tables, got %d", len(got))
	}
}
