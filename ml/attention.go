package ml

import (
	"math"
	"math/rand/v2"
)

// maskValue stands in for -inf on masked scores.
const maskValue = -1e9

// MultiHeadAttention is scaled dot-product self-attention over NumHeads
// heads of size d_model/NumHeads, with padded key positions masked out.
type MultiHeadAttention struct {
	NumHeads       int
	WQ, WK, WV, WO *Linear // [d_model, d_model]
}

func NewMultiHeadAttention(dModel, heads int, rng *rand.Rand) *MultiHeadAttention {
	if heads < 1 || dModel%heads != 0 {
		panic("MultiHeadAttention: d_model must be divisible by the head count")
	}
	return &MultiHeadAttention{
		NumHeads: heads,
		WQ:       NewLinear(dModel, dModel, rng),
		WK:       NewLinear(dModel, dModel, rng),
		WV:       NewLinear(dModel, dModel, rng),
		WO:       NewLinear(dModel, dModel, rng),
	}
}

// Forward attends every position of x [T, d_model] over the first keyLen
// positions. It returns the projected context [T, d_model] and the per-head
// attention weights [T, T]; columns at or beyond keyLen are zero.
func (a *MultiHeadAttention) Forward(x *Matrix, keyLen int) (*Matrix, []*Matrix) {
	T, dModel := x.rows, x.cols
	dk := dModel / a.NumHeads
	scale := 1.0 / math.Sqrt(float64(dk))

	weights := make([]*Matrix, a.NumHeads)
	context := NewMatrix(T, dModel)
	if T == 0 {
		for h := range weights {
			weights[h] = NewMatrix(0, 0)
		}
		return context, weights
	}

	q := a.WQ.Forward(x)
	k := a.WK.Forward(x)
	v := a.WV.Forward(x)
	headOut := NewMatrix(T, dk)

	for h := 0; h < a.NumHeads; h++ {
		lo, hi := h*dk, (h+1)*dk
		qh := q.dense.Slice(0, T, lo, hi)
		kh := k.dense.Slice(0, T, lo, hi)
		vh := v.dense.Slice(0, T, lo, hi)

		// Scores = Q_h * K_h^T, scaled, padded keys masked
		scores := NewMatrix(T, T)
		MatMul(qh, kh.T(), scores)
		for r := 0; r < T; r++ {
			row := scores.Row(r)
			for c := range row {
				if c >= keyLen {
					row[c] = maskValue
				} else {
					row[c] *= scale
				}
			}
		}
		SoftmaxRow(scores)
		if keyLen < T {
			for r := 0; r < T; r++ {
				clear(scores.Row(r)[max(keyLen, 0):])
			}
		}
		weights[h] = scores

		// Head output = Scores * V_h, written into its column block
		MatMul(scores.dense, vh, headOut)
		for r := 0; r < T; r++ {
			copy(context.Row(r)[lo:hi], headOut.Row(r))
		}
	}

	return a.WO.Forward(context), weights
}
