package ml

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// ConvLayer describes one CNN block. Kernel, Stride and Pool are given as
// (frequency, time). A zero Pool disables pooling for the block.
type ConvLayer struct {
	Channels int
	Kernel   [2]int
	Stride   [2]int
	Pool     [2]int
}

// convBlock is a Conv2d without padding followed by ReLU and an optional
// max pooling with kernel (p0, p0), stride (p0, p1) and padding 1.
type convBlock struct {
	layer    ConvLayer
	inC      int
	inFreq   int
	convFreq int
	outFreq  int
	W        *Matrix // [inC*kf*kt, C]
	B        *Matrix // [1, C]
}

// CNNEncoder treats a [T, F] feature matrix as a single-channel F x T image
// and returns [T', C*F'] with channels varying fastest.
type CNNEncoder struct {
	InputDim  int
	OutputDim int
	blocks    []*convBlock
}

func NewCNNEncoder(inputDim int, layers []ConvLayer, rng *rand.Rand) (*CNNEncoder, error) {
	if len(layers) == 0 {
		return nil, errors.Errorf("cnn encoder needs at least one layer")
	}
	enc := &CNNEncoder{InputDim: inputDim}
	inC, freq := 1, inputDim
	for i, layer := range layers {
		if layer.Channels < 1 || layer.Kernel[0] < 1 || layer.Kernel[1] < 1 || layer.Stride[0] < 1 || layer.Stride[1] < 1 {
			return nil, errors.Errorf("cnn layer %d: bad config %+v", i, layer)
		}
		b := &convBlock{layer: layer, inC: inC, inFreq: freq}
		b.convFreq = convOut(freq, layer.Kernel[0], layer.Stride[0], 0)
		b.outFreq = b.convFreq
		if layer.Pool[0] > 0 {
			if layer.Pool[0] < 2 || layer.Pool[1] < 1 {
				return nil, errors.Errorf("cnn layer %d: pooling needs kernel >= 2 and stride >= 1", i)
			}
			b.outFreq = convOut(b.convFreq, layer.Pool[0], layer.Pool[0], 1)
		}
		if b.convFreq < 1 || b.outFreq < 1 {
			return nil, errors.Errorf("cnn layer %d: frequency axis shrinks to zero (input %d)", i, freq)
		}
		b.W = NewMatrix(inC*layer.Kernel[0]*layer.Kernel[1], layer.Channels)
		b.W.RandomizeXavier(rng)
		b.B = NewMatrix(1, layer.Channels)

		enc.blocks = append(enc.blocks, b)
		inC, freq = layer.Channels, b.outFreq
	}
	enc.OutputDim = inC * freq
	return enc, nil
}

func convOut(in, kernel, stride, pad int) int {
	if in+2*pad < kernel {
		return 0
	}
	return (in+2*pad-kernel)/stride + 1
}

// OutputLen maps an input length to the length after every block.
func (enc *CNNEncoder) OutputLen(T int) int {
	for _, b := range enc.blocks {
		T = convOut(T, b.layer.Kernel[1], b.layer.Stride[1], 0)
		if b.layer.Pool[0] > 0 {
			T = convOut(T, b.layer.Pool[0], b.layer.Pool[1], 1)
		}
	}
	return max(T, 0)
}

// featureMap is a [freq][time][channel] volume.
type featureMap struct {
	freq, time, ch int
	data           []float64
}

func (fm *featureMap) at(f, t, c int) float64 {
	return fm.data[(f*fm.time+t)*fm.ch+c]
}

// Forward runs every block on x [T, InputDim].
func (enc *CNNEncoder) Forward(x *Matrix) *Matrix {
	if x.cols != enc.InputDim {
		panic("CNNEncoder: input width mismatch")
	}
	fm := &featureMap{freq: x.cols, time: x.rows, ch: 1, data: make([]float64, x.rows*x.cols)}
	for t := 0; t < x.rows; t++ {
		for f := 0; f < x.cols; f++ {
			fm.data[f*x.rows+t] = x.At(t, f)
		}
	}

	for _, b := range enc.blocks {
		fm = b.forward(fm)
		if fm.time == 0 {
			break
		}
	}

	T := enc.OutputLen(x.rows)
	out := NewMatrix(T, enc.OutputDim)
	for t := 0; t < T; t++ {
		row := out.Row(t)
		for f := 0; f < fm.freq; f++ {
			for c := 0; c < fm.ch; c++ {
				row[f*fm.ch+c] = fm.at(f, t, c)
			}
		}
	}
	return out
}

func (b *convBlock) forward(in *featureMap) *featureMap {
	kf, kt := b.layer.Kernel[0], b.layer.Kernel[1]
	sf, st := b.layer.Stride[0], b.layer.Stride[1]
	outT := convOut(in.time, kt, st, 0)
	if outT == 0 {
		return &featureMap{freq: b.outFreq, time: 0, ch: b.layer.Channels}
	}

	// im2row: one row per output (f, t), columns ordered (c, kf, kt)
	patch := in.ch * kf * kt
	rows := NewMatrix(b.convFreq*outT, patch)
	for fo := 0; fo < b.convFreq; fo++ {
		for to := 0; to < outT; to++ {
			row := rows.Row(fo*outT + to)
			i := 0
			for c := 0; c < in.ch; c++ {
				for df := 0; df < kf; df++ {
					for dt := 0; dt < kt; dt++ {
						row[i] = in.at(fo*sf+df, to*st+dt, c)
						i++
					}
				}
			}
		}
	}

	conv := NewMatrix(b.convFreq*outT, b.layer.Channels)
	MatMul(rows.dense, b.W.dense, conv)
	conv.AddVector(b.B)
	conv.ApplyRelu()

	out := &featureMap{freq: b.convFreq, time: outT, ch: b.layer.Channels, data: conv.data}
	if b.layer.Pool[0] > 0 {
		out = maxPool(out, b.layer.Pool[0], b.layer.Pool[0], b.layer.Pool[1])
	}
	return out
}

// maxPool pools over (freq, time) with padding 1; padded cells never win.
func maxPool(in *featureMap, kernel, strideF, strideT int) *featureMap {
	outF := convOut(in.freq, kernel, strideF, 1)
	outT := convOut(in.time, kernel, strideT, 1)
	out := &featureMap{freq: outF, time: outT, ch: in.ch, data: make([]float64, outF*outT*in.ch)}
	for fo := 0; fo < outF; fo++ {
		for to := 0; to < outT; to++ {
			for c := 0; c < in.ch; c++ {
				best := math.Inf(-1)
				for df := 0; df < kernel; df++ {
					f := fo*strideF + df - 1
					if f < 0 || f >= in.freq {
						continue
					}
					for dt := 0; dt < kernel; dt++ {
						t := to*strideT + dt - 1
						if t < 0 || t >= in.time {
							continue
						}
						best = max(best, in.at(f, t, c))
					}
				}
				out.data[(fo*outT+to)*in.ch+c] = best
			}
		}
	}
	return out
}
