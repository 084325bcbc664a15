package schema

import "testing"

func TestNewSchemaLocatesVectorColumn(t *testing.T) {
	cols := []Column{
		NewColumn("id", TypeInteger),
		{Name: "embedding", Type: TypeVector, Dimension: 128},
		NewColumn("label", TypeText),
	}
	s, err := NewSchema("docs", cols)
	if err != nil {
		t.Fatal(err)
	}
	if s.VectorColumn != 1 {
		t.Errorf("expected vector column index 1, got %d", s.VectorColumn)
	}
	if s.VectorDimension() != 128 {
		t.Errorf("expected dimension 128, got %d", s.VectorDimension())
	}
}

func TestNewSchemaRejectsMultipleVectorColumns(t *testing.T) {
	cols := []Column{
		{Name: "a", Type: TypeVector, Dimension: 4},
		{Name: "b", Type: TypeVector, Dimension: 4},
	}
	if _, err := NewSchema("bad", cols); err == nil {
		t.Fatal("expected error for multiple vector columns")
	}
}

func TestNewSchemaNoVectorColumn(t *testing.T) {
	s, err := NewSchema("plain", []Column{NewColumn("id", TypeInteger)})
	if err != nil {
		t.Fatal(err)
	}
	if s.HasVectorColumn() {
		t.Error("expected no vector column")
	}
}

func TestColumnIndex(t *testing.T) {
	s, _ := NewSchema("t", []Column{NewColumn("id", TypeInteger), NewColumn("name", TypeText)})
	if s.ColumnIndex("name") != 1 {
		t.Errorf("expected index 1, got %d", s.ColumnIndex("name"))
	}
	if s.ColumnIndex("missing") != -1 {
		t.Errorf("expected -1 for missing column")
	}
}

func TestValueEqual_NullNeverEqual(t *testing.T) {
	if Null().Equal(Null()) {
		t.Error("Null must not equal Null")
	}
	if Null().Equal(Integer(0)) {
		t.Error("Null must not equal any value")
	}
}

func TestValueEqual_IntegerFloatPromotion(t *testing.T) {
	if !Integer(5).Equal(Float(5.0)) {
		t.Error("Integer(5) should equal Float(5.0) under numeric promotion")
	}
}

func TestValueEqual_Text(t *testing.T) {
	if !Text("a").Equal(Text("a")) {
		t.Error("identical text values should be equal")
	}
	if Text("a").Equal(Text("b")) {
		t.Error("different text values should not be equal")
	}
}

func TestValueEqual_VectorNotComparable(t *testing.T) {
	a := Vector([]float32{1, 2})
	b := Vector([]float32{1, 2})
	if a.Equal(b) {
		t.Error("vector values should never compare equal by value")
	}
}

func TestValueCompare_Numeric(t *testing.T) {
	cmp, ok := Integer(3).Compare(Float(5.0))
	if !ok || cmp >= 0 {
		t.Errorf("expected 3 < 5.0, got cmp=%d ok=%v", cmp, ok)
	}
}

func TestValueCompare_TextLexicographic(t *testing.T) {
	cmp, ok := Text("apple").Compare(Text("banana"))
	if !ok || cmp >= 0 {
		t.Errorf("expected apple < banana, got cmp=%d ok=%v", cmp, ok)
	}
}

func TestValueCompare_NullNotOrderable(t *testing.T) {
	if _, ok := Null().Compare(Integer(1)); ok {
		t.Error("Null should not be orderable")
	}
}

func TestValueAccessors(t *testing.T) {
	if v, ok := Integer(42).AsInteger(); !ok || v != 42 {
		t.Errorf("AsInteger failed: %v %v", v, ok)
	}
	if _, ok := Integer(42).AsText(); ok {
		t.Error("AsText should fail on an Integer value")
	}
}
