package data

import (
	"errors"
	"slices"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// --- 1. Frame stacking ---

func TestStackFramesOverlap(t *testing.T) {
	x := seqFeatures(5, 2)
	out := StackFrames(x, 3, 2)

	rows, cols := out.Dims()
	if rows != 3 || cols != 6 {
		t.Fatalf("shape = [%d, %d], want [3, 6]", rows, cols)
	}
	want := [][]float64{
		{0, 1, 100, 101, 200, 201},
		{200, 201, 300, 301, 400, 401},
		{400, 401, 0, 0, 0, 0}, // zero padded tail
	}
	for r, row := range want {
		if got := out.RawRowView(r); !slices.Equal(got, row) {
			t.Errorf("row %d = %v, want %v", r, got, row)
		}
	}
}

func TestStackFramesDropsBetweenGroups(t *testing.T) {
	x := seqFeatures(7, 1)
	out := StackFrames(x, 2, 3)
	want := [][]float64{{0, 100}, {300, 400}, {600, 0}}
	if r, _ := out.Dims(); r != len(want) {
		t.Fatalf("rows = %d, want %d", r, len(want))
	}
	for r, row := range want {
		if got := out.RawRowView(r); !slices.Equal(got, row) {
			t.Errorf("row %d = %v, want %v", r, got, row)
		}
	}
}

func TestStackFramesIdentity(t *testing.T) {
	x := seqFeatures(4, 3)
	if out := StackFrames(x, 1, 1); out != x {
		t.Fatal("stack=skip=1 should return the input")
	}
}

func TestStackFramesLength(t *testing.T) {
	for T := 1; T <= 12; T++ {
		for stack := 1; stack <= 4; stack++ {
			for skip := 1; skip <= 4; skip++ {
				out := StackFrames(seqFeatures(T, 2), stack, skip)
				r, c := out.Dims()
				if want := (T + skip - 1) / skip; r != want {
					t.Fatalf("T=%d stack=%d skip=%d: rows = %d, want %d", T, stack, skip, r, want)
				}
				if c != 2*stack {
					t.Fatalf("T=%d stack=%d skip=%d: cols = %d, want %d", T, stack, skip, c, 2*stack)
				}
			}
		}
	}
}

// --- 2. Splicing ---

func TestSpliceClampsEdges(t *testing.T) {
	x := seqFeatures(3, 2)
	out, err := Splice(x, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float64{
		{0, 1, 0, 1, 100, 101},
		{0, 1, 100, 101, 200, 201},
		{100, 101, 200, 201, 200, 201},
	}
	for r, row := range want {
		if got := out.RawRowView(r); !slices.Equal(got, row) {
			t.Errorf("row %d = %v, want %v", r, got, row)
		}
	}
}

func TestSpliceGroupsByStackBlock(t *testing.T) {
	// Two frames, width 4 = two stacked blocks of 2.
	x := mat.NewDense(2, 4, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
	})
	out, err := Splice(x, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float64{
		// block 0 over window (0,0,1), then block 1 over the same window
		{1, 2, 1, 2, 5, 6, 3, 4, 3, 4, 7, 8},
		{1, 2, 5, 6, 5, 6, 3, 4, 7, 8, 7, 8},
	}
	for r, row := range want {
		if got := out.RawRowView(r); !slices.Equal(got, row) {
			t.Errorf("row %d = %v, want %v", r, got, row)
		}
	}
}

func TestSplicePreservesLength(t *testing.T) {
	for T := 1; T <= 8; T++ {
		for width := 1; width <= 7; width++ {
			out, err := Splice(seqFeatures(T, 4), width, 2)
			if err != nil {
				t.Fatal(err)
			}
			if r, c := out.Dims(); r != T || c != 4*width {
				t.Fatalf("T=%d splice=%d: shape [%d, %d]", T, width, r, c)
			}
		}
	}
}

func TestSpliceRejectsIndivisibleWidth(t *testing.T) {
	_, err := Splice(seqFeatures(3, 5), 3, 2)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestFrameConfig(t *testing.T) {
	cfg := FrameConfig{NumStack: 3, NumSkip: 3, Splice: 5}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if got := cfg.OutputDim(40); got != 600 {
		t.Errorf("OutputDim = %d, want 600", got)
	}
	out, err := cfg.Apply(seqFeatures(10, 40))
	if err != nil {
		t.Fatal(err)
	}
	if r, c := out.Dims(); r != cfg.OutputLen(10) || c != 600 {
		t.Errorf("Apply shape = [%d, %d], want [%d, 600]", r, c, cfg.OutputLen(10))
	}
	if err := (FrameConfig{NumStack: 0, NumSkip: 1, Splice: 1}).Validate(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("zero num_stack: err = %v", err)
	}
}

func TestFrameTransformZeroFrames(t *testing.T) {
	cfg := FrameConfig{NumStack: 2, NumSkip: 2, Splice: 3}
	out, err := cfg.Apply(emptyFeatures(4))
	if err != nil {
		t.Fatal(err)
	}
	if r, c := out.Dims(); r != 0 || c != 24 {
		t.Errorf("Apply on [0, 4] = [%d, %d], want [0, 24]", r, c)
	}
	if r, c := StackFrames(emptyFeatures(4), 3, 1).Dims(); r != 0 || c != 12 {
		t.Errorf("StackFrames on [0, 4] = [%d, %d]", r, c)
	}
}

// --- 3. Benchmarks ---

var resultFrames *mat.Dense

func benchmarkFrameTransform(b *testing.B, frames int, cfg FrameConfig) {
	x := seqFeatures(frames, 40)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		out, err := cfg.Apply(x)
		if err != nil {
			b.Fatal(err)
		}
		resultFrames = out
	}
}

func BenchmarkFrames_Stack3Skip3_1000(b *testing.B) {
	benchmarkFrameTransform(b, 1000, FrameConfig{NumStack: 3, NumSkip: 3, Splice: 1})
}
func BenchmarkFrames_Splice5_1000(b *testing.B) {
	benchmarkFrameTransform(b, 1000, FrameConfig{NumStack: 1, NumSkip: 1, Splice: 5})
}
func BenchmarkFrames_Stack3Splice5_1000(b *testing.B) {
	benchmarkFrameTransform(b, 1000, FrameConfig{NumStack: 3, NumSkip: 3, Splice: 5})
}
