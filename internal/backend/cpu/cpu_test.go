package cpu

import (
	"testing"

	"github.com/tensorgraph/engine/internal/layout"
)

func TestInit_AllocatesZeroedBuffer(t *testing.T) {
	l, _ := layout.Init([]int{2, 3}, 2)
	d := descriptor{}

	h, err := d.Init(l)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < l.Size; i++ {
		v, err := d.Get(h, i)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != 0 {
			t.Errorf("expected freshly initialized element %d to be 0, got %v", i, v)
		}
	}
}

func TestFill_SetsEveryElement(t *testing.T) {
	l, _ := layout.Init([]int{2, 2}, 2)
	d := descriptor{}
	h, _ := d.Init(l)

	if err := d.Fill(h, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < l.Size; i++ {
		v, _ := d.Get(h, i)
		if v != 7 {
			t.Errorf("expected element %d to be 7, got %v", i, v)
		}
	}
}

func TestFillRand_FillsWithinUnitInterval(t *testing.T) {
	l, _ := layout.Init([]int{4}, 1)
	d := descriptor{}
	h, _ := d.Init(l)

	if err := d.FillRand(h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < l.Size; i++ {
		v, _ := d.Get(h, i)
		if v < 0 || v >= 1 {
			t.Errorf("expected element %d in [0,1), got %v", i, v)
		}
	}
}

func TestGetSet_RoundTrip(t *testing.T) {
	l, _ := layout.Init([]int{3}, 1)
	d := descriptor{}
	h, _ := d.Init(l)

	if err := d.Set(h, 1, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := d.Get(h, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %v", v)
	}
}

func TestAsHandle_RejectsForeignHandle(t *testing.T) {
	d := descriptor{}
	if _, err := d.Get(foreignHandle{}, 0); err == nil {
		t.Error("expected an error for a handle from another backend")
	}
}

type foreignHandle struct{}

func (foreignHandle) Layout() layout.Layout     { return layout.Layout{} }
func (foreignHandle) SetLayout(layout.Layout)   {}

func TestAxpy_BroadcastsOverScalarOperand(t *testing.T) {
	d := descriptor{}

	xl, _ := layout.Init([]int{1}, 1)
	yl, _ := layout.Init([]int{3}, 1)
	rl, _ := layout.Init([]int{3}, 1)
	if err := layout.Broadcast(&xl, &yl, 0, layout.TD); err != nil {
		t.Fatalf("unexpected broadcast error: %v", err)
	}

	x, _ := d.Init(xl)
	y, _ := d.Init(yl)
	r, _ := d.Init(rl)
	d.Fill(x, 2)
	d.Fill(y, 5)

	if err := d.Axpy(3, x, y, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < rl.Size; i++ {
		v, _ := d.Get(r, i)
		if v != 11 {
			t.Errorf("expected axpy result 11 at %d, got %v", i, v)
		}
	}
}

func TestAxpy_ElementwiseSameShape(t *testing.T) {
	d := descriptor{}
	l, _ := layout.Init([]int{2, 2}, 2)

	x, _ := d.Init(l)
	y, _ := d.Init(l)
	r, _ := d.Init(l)
	d.Fill(x, 1)
	d.Fill(y, 10)

	if err := d.Axpy(2, x, y, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < l.Size; i++ {
		v, _ := d.Get(r, i)
		if v != 12 {
			t.Errorf("expected 12 at %d, got %v", i, v)
		}
	}
}

func TestGemm_MatchesManualMultiplication(t *testing.T) {
	d := descriptor{}

	al, _ := layout.Init([]int{2, 3}, 2)
	bl, _ := layout.Init([]int{3, 2}, 2)
	cl, _ := layout.Init([]int{2, 2}, 2)

	a, _ := d.Init(al)
	b, _ := d.Init(bl)
	c, _ := d.Init(cl)

	// a = [[1,2,3],[4,5,6]], b = identity-like [[1,0],[0,1],[1,1]]
	avals := []float32{1, 2, 3, 4, 5, 6}
	for i, v := range avals {
		d.Set(a, i, v)
	}
	bvals := []float32{1, 0, 0, 1, 1, 1}
	for i, v := range bvals {
		d.Set(b, i, v)
	}

	if err := d.Gemm(1, a, b, 0, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// row0: [1*1+2*0+3*1, 1*0+2*1+3*1] = [4, 5]
	// row1: [4*1+5*0+6*1, 4*0+5*1+6*1] = [10, 11]
	want := []float32{4, 5, 10, 11}
	for i, w := range want {
		v, _ := d.Get(c, i)
		if v != w {
			t.Errorf("expected c[%d]=%v, got %v", i, w, v)
		}
	}
}

func TestGemm_AccumulatesIntoExistingC(t *testing.T) {
	d := descriptor{}
	l, _ := layout.Init([]int{1, 1}, 2)

	a, _ := d.Init(l)
	b, _ := d.Init(l)
	c, _ := d.Init(l)
	d.Fill(a, 2)
	d.Fill(b, 3)
	d.Fill(c, 100)

	if err := d.Gemm(1, a, b, 1, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := d.Get(c, 0)
	if v != 106 {
		t.Errorf("expected beta-scaled accumulation 106, got %v", v)
	}
}

func TestShallowCopy_AliasesUnderlyingBuffer(t *testing.T) {
	d := descriptor{}
	l, _ := layout.Init([]int{2}, 1)
	h, _ := d.Init(l)
	d.Fill(h, 1)

	dup, err := d.ShallowCopy(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.Fill(dup, 9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := d.Get(h, 0)
	if v != 9 {
		t.Errorf("expected shallow copy to alias the source buffer, got %v", v)
	}
}

func TestContiguousCopy_ProducesIndependentBuffer(t *testing.T) {
	d := descriptor{}
	l, _ := layout.Init([]int{2, 2}, 2)
	h, _ := d.Init(l)
	if err := layout.Transpose(&l, []int{1, 0}, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hh, err := asHandle(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hh.SetLayout(l)
	d.Fill(h, 3)

	cp, err := d.ContiguousCopy(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Fill(cp, 9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := d.Get(h, 0)
	if v != 3 {
		t.Errorf("expected contiguous copy to be independent of source, got %v", v)
	}
	ccp, _ := asHandle(cp)
	if !ccp.lay.IsContiguous() {
		t.Error("expected the copy's layout to be contiguous")
	}
}

func TestFree_ClearsBuffer(t *testing.T) {
	d := descriptor{}
	l, _ := layout.Init([]int{2}, 1)
	h, _ := d.Init(l)
	d.Fill(h, 1)

	if err := d.Free(h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hh, _ := asHandle(h)
	if hh.buf.data != nil {
		t.Error("expected Free to release the underlying buffer")
	}
}

func TestDescriptor_Name(t *testing.T) {
	if (descriptor{}).Name() != Name {
		t.Errorf("expected descriptor name %q, got %q", Name, (descriptor{}).Name())
	}
}
