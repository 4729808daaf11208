package data

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// FrameConfig controls frame stacking and splicing.
type FrameConfig struct {
	NumStack int // frames concatenated per output step
	NumSkip  int // input frames advanced per output step
	Splice   int // context window (in output steps) concatenated around each step
}

// DefaultFrameConfig is the identity transform.
func DefaultFrameConfig() FrameConfig {
	return FrameConfig{NumStack: 1, NumSkip: 1, Splice: 1}
}

// Validate rejects non-positive parameters.
func (c FrameConfig) Validate() error {
	if c.NumStack < 1 || c.NumSkip < 1 || c.Splice < 1 {
		return configErrorf("frame config needs num_stack, num_skip, splice >= 1, got %d/%d/%d",
			c.NumStack, c.NumSkip, c.Splice)
	}
	return nil
}

// OutputDim is the feature width after stacking and splicing rawDim-wide frames.
func (c FrameConfig) OutputDim(rawDim int) int {
	return rawDim * c.NumStack * c.Splice
}

// OutputLen is the number of frames StackFrames produces from frames input frames.
func (c FrameConfig) OutputLen(frames int) int {
	return ceilDiv(frames, c.NumSkip)
}

// Apply runs StackFrames then Splice.
func (c FrameConfig) Apply(x *mat.Dense) (*mat.Dense, error) {
	stacked := StackFrames(x, c.NumStack, c.NumSkip)
	return Splice(stacked, c.Splice, c.NumStack)
}

// StackFrames concatenates numStack consecutive frames per output step,
// advancing numSkip frames between steps. Output length is ceil(T/numSkip).
// Groups running past the end are zero padded.
func StackFrames(x *mat.Dense, numStack, numSkip int) *mat.Dense {
	if numStack < 1 || numSkip < 1 {
		panic("StackFrames: numStack and numSkip must be >= 1")
	}
	if numStack == 1 && numSkip == 1 {
		return x
	}

	rows, cols := x.Dims()
	outRows := ceilDiv(rows, numSkip)
	outCols := cols * numStack
	if outRows == 0 {
		return emptyFeatures(outCols)
	}
	out := mat.NewDense(outRows, outCols, nil)

	raw := out.RawMatrix()
	for t := 0; t < outRows; t++ {
		start := t * numSkip
		dst := raw.Data[t*raw.Stride : t*raw.Stride+outCols]
		for j := 0; j < numStack; j++ {
			src := start + j
			if src >= rows {
				break // remaining blocks stay zero
			}
			copy(dst[j*cols:(j+1)*cols], x.RawRowView(src))
		}
	}
	return out
}

// Splice concatenates a window of splice frames around every step. Indices
// outside [0, T) are clamped to the edge frames. The stacked feature axis is
// handled in numStack blocks: each output row holds, for every block, the
// block's values across the whole window.
func Splice(x *mat.Dense, splice, numStack int) (*mat.Dense, error) {
	if splice < 1 || numStack < 1 {
		return nil, configErrorf("splice and num_stack must be >= 1, got %d/%d", splice, numStack)
	}
	rows, cols := x.Dims()
	if cols%numStack != 0 {
		return nil, configErrorf("feature width %d is not divisible by num_stack %d", cols, numStack)
	}
	if splice == 1 {
		return x, nil
	}
	if rows == 0 {
		return emptyFeatures(cols * splice), nil
	}

	block := cols / numStack
	left := (splice - 1) / 2
	out := mat.NewDense(rows, cols*splice, nil)
	raw := out.RawMatrix()

	for t := 0; t < rows; t++ {
		dst := raw.Data[t*raw.Stride : t*raw.Stride+cols*splice]
		pos := 0
		for s := 0; s < numStack; s++ {
			for k := 0; k < splice; k++ {
				src := clamp(t+k-left, 0, rows-1)
				row := x.RawRowView(src)
				copy(dst[pos:pos+block], row[s*block:(s+1)*block])
				pos += block
			}
		}
	}
	return out, nil
}

// emptyFeatures is a [0, cols] array. mat.NewDense refuses zero rows, so
// the width is set on the raw matrix directly.
func emptyFeatures(cols int) *mat.Dense {
	var m mat.Dense
	m.SetRawMatrix(blas64.General{Rows: 0, Cols: cols, Stride: cols})
	return &m
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
