package ml

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// -------- LINEAR -------- //

// Linear computes x*W + b for row vectors x.
type Linear struct {
	Weights *Matrix // [in, out]
	Biases  *Matrix // [1, out]
}

// NewLinear initializes weights Xavier-uniform and biases to zero.
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	l := &Linear{Weights: NewMatrix(in, out), Biases: NewMatrix(1, out)}
	l.Weights.RandomizeXavier(rng)
	return l
}

func (l *Linear) In() int  { return l.Weights.rows }
func (l *Linear) Out() int { return l.Weights.cols }

// Forward returns a new [rows, out] matrix.
func (l *Linear) Forward(x *Matrix) *Matrix {
	if x.cols != l.Weights.rows {
		panic("Linear: input width mismatch")
	}
	out := NewMatrix(x.rows, l.Weights.cols)
	if x.rows == 0 {
		return out
	}
	MatMul(x.dense, l.Weights.dense, out)
	out.AddVector(l.Biases)
	return out
}

// -------- LAYER NORM -------- //

// LayerNorm normalizes every row to zero mean and unit variance, then
// applies a per-feature gain and bias.
type LayerNorm struct {
	Gamma []float64
	Beta  []float64
	Eps   float64
}

func NewLayerNorm(dim int, eps float64) *LayerNorm {
	ln := &LayerNorm{Gamma: make([]float64, dim), Beta: make([]float64, dim), Eps: eps}
	for i := range ln.Gamma {
		ln.Gamma[i] = 1
	}
	return ln
}

// Forward returns a normalized copy of x.
func (ln *LayerNorm) Forward(x *Matrix) *Matrix {
	out := x.Clone()
	ln.Apply(out)
	return out
}

// Apply normalizes x in place.
func (ln *LayerNorm) Apply(x *Matrix) {
	n := float64(x.cols)
	for r := 0; r < x.rows; r++ {
		row := x.Row(r)
		mean := floats.Sum(row) / n
		floats.AddConst(-mean, row)
		variance := floats.Dot(row, row) / n
		floats.Scale(1/math.Sqrt(variance+ln.Eps), row)
		floats.Mul(row, ln.Gamma)
		floats.Add(row, ln.Beta)
	}
}

// -------- FEED FORWARD -------- //

// FeedForward is the position-wise two-layer network with a ReLU between.
type FeedForward struct {
	W1 *Linear // [d_model, d_ff]
	W2 *Linear // [d_ff, d_model]
}

func NewFeedForward(dModel, dFF int, rng *rand.Rand) *FeedForward {
	return &FeedForward{W1: NewLinear(dModel, dFF, rng), W2: NewLinear(dFF, dModel, rng)}
}

func (ff *FeedForward) Forward(x *Matrix) *Matrix {
	h := ff.W1.Forward(x)
	h.ApplyRelu()
	return ff.W2.Forward(h)
}

// -------- POSITIONAL ENCODING -------- //

// MakePositionalEncoding creates a flattened vector of size [ContextLen * EmbedDim]
// containing the standard sinusoidal timing signals.
func MakePositionalEncoding(contextLen, embedDim int) []float64 {
	pe := make([]float64, contextLen*embedDim)

	for pos := 0; pos < contextLen; pos++ {
		for i := 0; i < embedDim; i++ {
			// PE(pos, 2i)   = sin(pos / 10000^(2i/d_model))
			// PE(pos, 2i+1) = cos(pos / 10000^(2i/d_model))
			exponent := float64(2*(i/2)) / float64(embedDim)
			val := float64(pos) / math.Pow(10000.0, exponent)

			if i%2 == 0 {
				pe[pos*embedDim+i] = math.Sin(val)
			} else {
				pe[pos*embedDim+i] = math.Cos(val)
			}
		}
	}
	return pe
}

// PositionalEncoding adds sinusoidal timing signals. The table grows on
// demand and is shared by every call.
type PositionalEncoding struct {
	dim   int
	table []float64
}

func NewPositionalEncoding(dim, maxLen int) *PositionalEncoding {
	return &PositionalEncoding{dim: dim, table: MakePositionalEncoding(maxLen, dim)}
}

// Table returns the encoding of the first n positions, extending the table
// if needed. Not safe for concurrent use while growing.
func (pe *PositionalEncoding) Table(n int) []float64 {
	if len(pe.table) < n*pe.dim {
		pe.table = MakePositionalEncoding(n, pe.dim)
	}
	return pe.table[:n*pe.dim]
}

// Apply adds the encoding to x in place.
func (pe *PositionalEncoding) Apply(x *Matrix) {
	if x.cols != pe.dim {
		panic("PositionalEncoding: width mismatch")
	}
	floats.Add(x.data, pe.Table(x.rows))
}

// -------- ACTIVATIONS -------- //

func Relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// SoftmaxRow applies softmax to each row of the matrix.
func SoftmaxRow(m *Matrix) {
	for i := 0; i < m.rows; i++ {
		row := m.Row(i)
		maxVal := floats.Max(row)
		sum := 0.0
		for j, v := range row {
			e := math.Exp(v - maxVal)
			row[j] = e
			sum += e
		}
		floats.Scale(1/sum, row)
	}
}

// Entropy returns the mean Shannon entropy (nats) of the first n rows of a
// row-stochastic matrix.
func Entropy(m *Matrix, n int) float64 {
	n = min(n, m.rows)
	if n <= 0 {
		return 0
	}
	total := 0.0
	for i := 0; i < n; i++ {
		for _, p := range m.Row(i) {
			if p > 0 {
				total -= p * math.Log(p)
			}
		}
	}
	return total / float64(n)
}
