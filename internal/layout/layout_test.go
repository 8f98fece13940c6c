package layout

import "testing"

func TestInit_Size(t *testing.T) {
	l, err := Init([]int{2, 3, 4}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Size != 24 {
		t.Errorf("expected size 24, got %d", l.Size)
	}
	if l.Shape != [TD]int{1, 2, 3, 4} {
		t.Errorf("expected right-aligned shape, got %v", l.Shape)
	}
	if !l.IsContiguous() {
		t.Error("expected freshly initialized layout to be contiguous")
	}
}

func TestInit_RejectsNonPositiveDim(t *testing.T) {
	if _, err := Init([]int{2, 0}, 2); err == nil {
		t.Error("expected error for zero-sized dim")
	}
}

func TestFlatIndex(t *testing.T) {
	l, _ := Init([]int{2, 3}, 2)
	idx, err := l.FlatIndex([]int{1, 2}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx != 1*3+2 {
		t.Errorf("expected flat index %d, got %d", 1*3+2, idx)
	}
}

func TestFlatIndex_OutOfBounds(t *testing.T) {
	l, _ := Init([]int{2, 3}, 2)
	if _, err := l.FlatIndex([]int{2, 0}, 2); err == nil {
		t.Error("expected out-of-bounds error")
	}
}

func TestBroadcast_Symmetry(t *testing.T) {
	a, _ := Init([]int{1, 4}, 2)
	b, _ := Init([]int{3, 4}, 2)
	if err := Broadcast(&a, &b, 0, TD); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Shape != b.Shape {
		t.Errorf("expected matching shapes after broadcast, got %v vs %v", a.Shape, b.Shape)
	}
	if a.Strides[TD-2] != 0 {
		t.Errorf("expected broadcast axis to carry zero stride, got %d", a.Strides[TD-2])
	}

	// Broadcast is symmetric with roles swapped.
	c, _ := Init([]int{1, 4}, 2)
	d, _ := Init([]int{3, 4}, 2)
	if err := Broadcast(&d, &c, 0, TD); err != nil {
		t.Fatalf("unexpected error on swapped broadcast: %v", err)
	}
	if c.Shape != d.Shape {
		t.Errorf("expected matching shapes after swapped broadcast, got %v vs %v", c.Shape, d.Shape)
	}
}

func TestBroadcast_Incompatible(t *testing.T) {
	a, _ := Init([]int{2, 4}, 2)
	b, _ := Init([]int{3, 4}, 2)
	if err := Broadcast(&a, &b, 0, TD); err == nil {
		t.Error("expected broadcast error for incompatible shapes")
	}
}

func TestTranspose_Involution(t *testing.T) {
	l, _ := Init([]int{2, 3}, 2)
	orig := l
	if err := Transpose(&l, []int{1, 0}, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Transpose(&l, []int{1, 0}, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l != orig {
		t.Errorf("expected double-swap to restore layout, got %v want %v", l, orig)
	}
}

func TestTranspose_RejectsDuplicate(t *testing.T) {
	l, _ := Init([]int{2, 3}, 2)
	if err := Transpose(&l, []int{0, 0}, 2); err == nil {
		t.Error("expected error for duplicate permutation entry")
	}
}

func TestReshape_RoundTrip(t *testing.T) {
	l, _ := Init([]int{2, 3, 4}, 3)
	reshaped, err := Reshape(l, []int{6, 4}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reshaped.Size != l.Size {
		t.Errorf("expected size preserved, got %d want %d", reshaped.Size, l.Size)
	}
	back, err := Reshape(reshaped, []int{2, 3, 4}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.Shape != l.Shape || back.Strides != l.Strides {
		t.Errorf("expected round-trip reshape to restore layout, got %v want %v", back, l)
	}
}

func TestReshape_InferDim(t *testing.T) {
	l, _ := Init([]int{2, 3, 4}, 3)
	reshaped, err := Reshape(l, []int{-1, 4}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reshaped.Shape[TD-2] != 6 {
		t.Errorf("expected inferred dim 6, got %d", reshaped.Shape[TD-2])
	}
}

func TestReshape_RejectsNonRegular(t *testing.T) {
	a, _ := Init([]int{1, 4}, 2)
	b, _ := Init([]int{3, 4}, 2)
	_ = Broadcast(&a, &b, 0, TD)
	if _, err := Reshape(a, []int{12}, 1); err == nil {
		t.Error("expected reshape of broadcast (non-regular) layout to fail")
	}
}

func TestReduce(t *testing.T) {
	l, _ := Init([]int{2, 3}, 2)
	var mask [TD]bool
	mask[TD-1] = true
	out := Reduce(l, mask)
	if out.Shape[TD-1] != 1 {
		t.Errorf("expected reduced axis to collapse to 1, got %d", out.Shape[TD-1])
	}
	if out.Shape[TD-2] != 2 {
		t.Errorf("expected untouched axis to remain 2, got %d", out.Shape[TD-2])
	}
	if !out.IsContiguous() {
		t.Error("expected reduced layout to be contiguous")
	}
}

func TestIsRegularAndContiguous(t *testing.T) {
	l, _ := Init([]int{2, 3}, 2)
	if !l.IsRegular() || !l.IsContiguous() {
		t.Error("expected fresh layout to be regular and contiguous")
	}
	_ = Transpose(&l, []int{1, 0}, 2)
	if l.IsContiguous() {
		t.Error("expected transposed layout to no longer be contiguous")
	}
}

func TestSizeInvariant(t *testing.T) {
	// Size is always the product of shape.
	l, _ := Init([]int{5, 2, 3}, 3)
	product := 1
	for _, s := range l.Shape {
		product *= s
	}
	if l.Size != product {
		t.Errorf("expected size %d to equal shape product %d", l.Size, product)
	}
}
