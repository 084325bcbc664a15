package graph

import (
	"sync"
	"testing"
)

func vec(xs ...float32) []float32 { return xs }

func TestInsertAssignsIncreasingIds(t *testing.T) {
	g := New(DefaultConfig(2))
	id0, err := g.Insert(vec(1, 0))
	if err != nil {
		t.Fatal(err)
	}
	id1, err := g.Insert(vec(0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if id0 == id1 {
		t.Fatalf("expected distinct ids, got %d and %d", id0, id1)
	}
	if g.ActiveCount() != 2 {
		t.Fatalf("expected active count 2, got %d", g.ActiveCount())
	}
}

func TestInsertDimensionMismatch(t *testing.T) {
	g := New(DefaultConfig(3))
	if _, err := g.Insert(vec(1, 2)); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestQueryFindsNearest(t *testing.T) {
	g := New(DefaultConfig(2))
	ids := make([]NodeId, 0)
	for i := 0; i < 20; i++ {
		id, err := g.Insert(vec(float32(i), float32(i)))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	results, err := g.Query(vec(10, 10), 1, 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != ids[10] {
		t.Errorf("expected nearest to be node for i=10 (id %d), got %d", ids[10], results[0].ID)
	}
	if results[0].Distance > 1e-4 {
		t.Errorf("expected ~0 distance to exact match, got %v", results[0].Distance)
	}
}

func TestQueryReturnsKOrderedByDistance(t *testing.T) {
	g := New(DefaultConfig(2))
	for i := 0; i < 100; i++ {
		if _, err := g.Insert(vec(float32(i), float32(i))); err != nil {
			t.Fatal(err)
		}
	}

	results, err := g.Query(vec(50, 50), 3, 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results not sorted ascending: %+v", results)
		}
	}
}

func TestDeleteExcludesFromSearch(t *testing.T) {
	g := New(DefaultConfig(2))
	ids := make([]NodeId, 0, 100)
	for i := 0; i < 100; i++ {
		id, err := g.Insert(vec(float32(i), float32(i)))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	if err := g.Delete(ids[50]); err != nil {
		t.Fatal(err)
	}

	results, err := g.Query(vec(50, 50), 5, 64)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID == ids[50] {
			t.Errorf("deleted node %d reappeared in search results", ids[50])
		}
	}
	if g.ActiveCount() != 99 {
		t.Errorf("expected active count 99 after delete, got %d", g.ActiveCount())
	}
}

func TestDeleteThenInsertReusesNodeId(t *testing.T) {
	g := New(DefaultConfig(2))
	id0, _ := g.Insert(vec(1, 1))
	id1, _ := g.Insert(vec(2, 2))
	if err := g.Delete(id0); err != nil {
		t.Fatal(err)
	}
	id2, err := g.Insert(vec(3, 3))
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id0 {
		t.Errorf("expected reused node id %d, got %d", id0, id2)
	}
	_ = id1
}

func TestDeleteUnknownNode(t *testing.T) {
	g := New(DefaultConfig(2))
	if err := g.Delete(NodeId(999)); err == nil {
		t.Fatal("expected error deleting unknown node")
	}
}

func TestDeleteTwiceErrors(t *testing.T) {
	g := New(DefaultConfig(2))
	id, _ := g.Insert(vec(1, 1))
	if err := g.Delete(id); err != nil {
		t.Fatal(err)
	}
	if err := g.Delete(id); err == nil {
		t.Fatal("expected error on double delete")
	}
}

func TestCentroidTracksMean(t *testing.T) {
	g := New(DefaultConfig(2))
	if _, err := g.Insert(vec(2, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Insert(vec(0, 2)); err != nil {
		t.Fatal(err)
	}
	c := g.Centroid()
	if !approxEqual32(c[0], 1) || !approxEqual32(c[1], 1) {
		t.Errorf("expected centroid (1,1), got %+v", c)
	}
}

func TestCentroidResetsOnLastDelete(t *testing.T) {
	g := New(DefaultConfig(2))
	id, _ := g.Insert(vec(5, 5))
	if err := g.Delete(id); err != nil {
		t.Fatal(err)
	}
	c := g.Centroid()
	if c[0] != 0 || c[1] != 0 {
		t.Errorf("expected zero centroid after deleting last node, got %+v", c)
	}
}

func TestValidateIntegrityHoldsUnderChurn(t *testing.T) {
	g := New(DefaultConfig(4))
	ids := make([]NodeId, 0, 50)
	for i := 0; i < 50; i++ {
		id, err := g.Insert(vec(float32(i), float32(i%7), float32(i%3), float32(-i)))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	for i := 0; i < 50; i += 2 {
		if err := g.Delete(ids[i]); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 10; i++ {
		if _, err := g.Insert(vec(float32(i), float32(i), 0, 0)); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.ValidateIntegrity(); err != nil {
		t.Errorf("ValidateIntegrity failed: %v", err)
	}
}

func TestConcurrentInsertAndQuery(t *testing.T) {
	g := New(DefaultConfig(2))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := g.Insert(vec(float32(i), float32(i))); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if g.ActiveCount() != 10 {
		t.Errorf("expected 10 active nodes, got %d", g.ActiveCount())
	}
	if err := g.ValidateIntegrity(); err != nil {
		t.Errorf("ValidateIntegrity failed: %v", err)
	}
}

func TestRebuildReinsertsAll(t *testing.T) {
	vectors := [][]float32{{1, 1}, {2, 2}, {3, 3}}
	g, ids, err := Rebuild(DefaultConfig(2), vectors)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	if g.ActiveCount() != 3 {
		t.Errorf("expected active count 3, got %d", g.ActiveCount())
	}
}

func approxEqual32(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-4
}
