package pool

import "testing"

func TestVectorPoolGetReturnsZeroedVector(t *testing.T) {
	vp := NewVectorPool()
	vec := vp.Get(4)
	if len(vec) != 4 {
		t.Fatalf("expected length 4, got %d", len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Errorf("vec[%d] = %v, want 0", i, v)
		}
	}
}

func TestVectorPoolReusesPutVectors(t *testing.T) {
	vp := NewVectorPool()
	vec := vp.Get(3)
	vec[0], vec[1], vec[2] = 1, 2, 3
	vp.Put(vec)

	reused := vp.Get(3)
	if len(reused) != 3 {
		t.Fatalf("expected length 3, got %d", len(reused))
	}
	for i, v := range reused {
		if v != 0 {
			t.Errorf("reused[%d] = %v, want 0 (cleared on Get)", i, v)
		}
	}
}

func TestVectorPoolSeparatesDimensions(t *testing.T) {
	vp := NewVectorPool()
	a := vp.Get(2)
	b := vp.Get(8)
	if len(a) != 2 || len(b) != 8 {
		t.Fatalf("unexpected lengths: %d, %d", len(a), len(b))
	}
}

func TestBufferPoolTiers(t *testing.T) {
	bp := NewBufferPool()

	small := bp.Get(100)
	if len(small) != 100 {
		t.Errorf("expected length 100, got %d", len(small))
	}

	medium := bp.Get(10000)
	if len(medium) != 10000 {
		t.Errorf("expected length 10000, got %d", len(medium))
	}

	huge := bp.Get(2 * 1024 * 1024)
	if len(huge) != 2*1024*1024 {
		t.Errorf("expected length 2MiB, got %d", len(huge))
	}
}

func TestBufferPoolPutGet(t *testing.T) {
	bp := NewBufferPool()
	buf := bp.Get(50)
	bp.Put(buf)

	reused := bp.Get(50)
	if len(reused) != 50 {
		t.Errorf("expected length 50, got %d", len(reused))
	}
}
