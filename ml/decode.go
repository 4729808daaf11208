package ml

import (
	"math/rand/v2"
)

// CTCHead projects encoder frames onto a label vocabulary.
type CTCHead struct {
	Proj  *Linear
	Blank int
}

func NewCTCHead(inDim, vocabSize, blank int, rng *rand.Rand) *CTCHead {
	return &CTCHead{Proj: NewLinear(inDim, vocabSize, rng), Blank: blank}
}

// Probs returns per-frame label posteriors [T, vocab].
func (h *CTCHead) Probs(x *Matrix) *Matrix {
	p := h.Proj.Forward(x)
	SoftmaxRow(p)
	return p
}

// GreedyDecode picks the best label per frame over the first length frames,
// merges repeats, and drops blanks.
func (h *CTCHead) GreedyDecode(x *Matrix, length int) []int {
	probs := h.Probs(x)
	length = min(length, probs.rows)

	var out []int
	prev := -1
	for t := 0; t < length; t++ {
		id := greedySample(probs.Row(t))
		if id != prev && id != h.Blank {
			out = append(out, id)
		}
		prev = id
	}
	return out
}

// greedySample finds the index of the maximum probability.
func greedySample(probs []float64) int {
	maxProb := -1.0
	maxIdx := 0
	for i, p := range probs {
		if p > maxProb {
			maxProb = p
			maxIdx = i
		}
	}
	return maxIdx
}
