package ml

import (
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/b0tShaman/neuro-sp/data"
)

// -------- CONFIG -------- //

type EncoderOption func(*EncoderConfig)

// EncoderConfig holds the blueprint for a TransformerEncoder.
type EncoderConfig struct {
	InputDim     int
	DModel       int
	Heads        int
	Layers       int
	DFF          int
	PEType       string // "add" or "none"
	LayerNormEps float64
	LastProjDim  int // 0 or DModel disables the bridge
	Conv         []ConvLayer
	Seed         uint64
	Workers      int // examples encoded concurrently
}

func DModel(n int) EncoderOption { return func(c *EncoderConfig) { c.DModel = n } }
func Heads(n int) EncoderOption { return func(c *EncoderConfig) { c.Heads = n } }
func NumLayers(n int) EncoderOption { return func(c *EncoderConfig) { c.Layers = n } }
func FeedForwardDim(n int) EncoderOption { return func(c *EncoderConfig) { c.DFF = n } }
func LastProjDim(n int) EncoderOption { return func(c *EncoderConfig) { c.LastProjDim = n } }
func Seed(s uint64) EncoderOption { return func(c *EncoderConfig) { c.Seed = s } }
func Workers(n int) EncoderOption { return func(c *EncoderConfig) { c.Workers = n } }

func LayerNormEps(eps float64) EncoderOption {
	return func(c *EncoderConfig) { c.LayerNormEps = eps }
}

func PositionalEncodingType(t string) EncoderOption {
	return func(c *EncoderConfig) { c.PEType = t }
}

// Conv puts a CNN front-end in place of the input embedding.
func Conv(layers ...ConvLayer) EncoderOption {
	return func(c *EncoderConfig) { c.Conv = layers }
}

// -------- ENCODER -------- //

// encoderBlock is one pre-norm layer: x + SelfAttn(LN(x)), then x + FF(LN(x)).
type encoderBlock struct {
	normAttn *LayerNorm
	attn     *MultiHeadAttention
	normFF   *LayerNorm
	ff       *FeedForward
}

// TransformerEncoder maps padded feature batches to contextual vectors.
// Only the forward pass exists; parameters are randomly initialized.
type TransformerEncoder struct {
	Config EncoderConfig

	conv       *CNNEncoder
	bottleneck *Linear // CNN output -> d_model
	embed      *Linear // input -> d_model, scaled by sqrt(d_model)
	pe         *PositionalEncoding
	normIn     *LayerNorm
	blocks     []*encoderBlock
	normTop    *LayerNorm
	bridge     *Linear

	peMu sync.Mutex
}

func NewTransformerEncoder(inputDim int, opts ...EncoderOption) (*TransformerEncoder, error) {
	cfg := EncoderConfig{
		InputDim:     inputDim,
		DModel:       256,
		Heads:        4,
		Layers:       6,
		DFF:          1024,
		PEType:       "add",
		LayerNormEps: 1e-6,
		Seed:         1,
		Workers:      1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case cfg.InputDim < 1:
		return nil, errors.Errorf("encoder input dim must be >= 1, got %d", cfg.InputDim)
	case cfg.DModel < 1 || cfg.Heads < 1 || cfg.DModel%cfg.Heads != 0:
		return nil, errors.Errorf("d_model %d must be a positive multiple of heads %d", cfg.DModel, cfg.Heads)
	case cfg.Layers < 0 || cfg.DFF < 1:
		return nil, errors.Errorf("bad layer count %d or d_ff %d", cfg.Layers, cfg.DFF)
	}
	cfg.PEType = strings.ToLower(cfg.PEType)
	if cfg.PEType != "add" && cfg.PEType != "none" && cfg.PEType != "" {
		return nil, errors.Errorf("unsupported positional encoding %q", cfg.PEType)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	enc := &TransformerEncoder{Config: cfg}

	if len(cfg.Conv) > 0 {
		conv, err := NewCNNEncoder(cfg.InputDim, cfg.Conv, rng)
		if err != nil {
			return nil, errors.Wrap(err, "build cnn front-end")
		}
		enc.conv = conv
		enc.bottleneck = NewLinear(conv.OutputDim, cfg.DModel, rng)
	} else {
		enc.embed = NewLinear(cfg.InputDim, cfg.DModel, rng)
		enc.embed.Weights.RandomizeNormal(rng, math.Pow(float64(cfg.DModel), -0.5))
	}
	if cfg.PEType == "add" {
		enc.pe = NewPositionalEncoding(cfg.DModel, 1024)
	}
	enc.normIn = NewLayerNorm(cfg.DModel, cfg.LayerNormEps)
	for i := 0; i < cfg.Layers; i++ {
		enc.blocks = append(enc.blocks, &encoderBlock{
			normAttn: NewLayerNorm(cfg.DModel, cfg.LayerNormEps),
			attn:     NewMultiHeadAttention(cfg.DModel, cfg.Heads, rng),
			normFF:   NewLayerNorm(cfg.DModel, cfg.LayerNormEps),
			ff:       NewFeedForward(cfg.DModel, cfg.DFF, rng),
		})
	}
	enc.normTop = NewLayerNorm(cfg.DModel, cfg.LayerNormEps)
	if cfg.LastProjDim > 0 && cfg.LastProjDim != cfg.DModel {
		enc.bridge = NewLinear(cfg.DModel, cfg.LastProjDim, rng)
	}
	return enc, nil
}

// OutputDim is the width of every output frame.
func (enc *TransformerEncoder) OutputDim() int {
	if enc.bridge != nil {
		return enc.bridge.Out()
	}
	return enc.Config.DModel
}

// OutputLen maps an input length to the encoded length.
func (enc *TransformerEncoder) OutputLen(T int) int {
	if enc.conv != nil {
		return enc.conv.OutputLen(T)
	}
	return T
}

// EncoderOutput holds a batch's encoded frames.
type EncoderOutput struct {
	Outputs *data.Tensor3 // [B, T', OutputDim]; frames beyond Lens[b] are not meaningful
	Lens    []int
	// Attention[b][h] is the last block's [T', T'] weights of head h.
	Attention [][]*Matrix
}

// Example returns example b's encoded frames as a view.
func (o *EncoderOutput) Example(b int) *Matrix {
	return NewMatrixFromSlice(o.Outputs.T, o.Outputs.F, o.Outputs.Example(b))
}

// Forward encodes inputs [B, T, InputDim] whose real lengths are lens.
// Padded key positions never receive attention.
func (enc *TransformerEncoder) Forward(inputs *data.Tensor3, lens []int) EncoderOutput {
	if inputs.F != enc.Config.InputDim {
		panic("TransformerEncoder: input width mismatch")
	}
	if len(lens) != inputs.B {
		panic("TransformerEncoder: lens do not match batch size")
	}

	T := enc.OutputLen(inputs.T)
	out := EncoderOutput{
		Outputs:   data.NewTensor3(inputs.B, T, enc.OutputDim()),
		Lens:      make([]int, inputs.B),
		Attention: make([][]*Matrix, inputs.B),
	}
	if T == 0 {
		return out
	}
	if enc.pe != nil {
		// Grow the shared table before fanning out.
		enc.peMu.Lock()
		enc.pe.Table(T)
		enc.peMu.Unlock()
	}

	workers := min(max(enc.Config.Workers, 1), max(inputs.B, 1))
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for b := id; b < inputs.B; b += workers {
				x := NewMatrixFromSlice(inputs.T, inputs.F, inputs.Example(b))
				y, n, attn := enc.encodeOne(x, min(lens[b], inputs.T))
				copy(out.Outputs.Example(b), y.data)
				out.Lens[b] = n
				out.Attention[b] = attn
			}
		}(w)
	}
	wg.Wait()
	return out
}

func (enc *TransformerEncoder) encodeOne(x *Matrix, length int) (*Matrix, int, []*Matrix) {
	var h *Matrix
	if enc.conv != nil {
		h = enc.bottleneck.Forward(enc.conv.Forward(x))
		length = enc.conv.OutputLen(length)
	} else {
		h = enc.embed.Forward(x)
		h.Scale(math.Sqrt(float64(enc.Config.DModel)))
	}

	if enc.pe != nil && h.rows > 0 {
		enc.pe.Apply(h)
	}
	enc.normIn.Apply(h)

	var attn []*Matrix
	for _, blk := range enc.blocks {
		a, w := blk.attn.Forward(blk.normAttn.Forward(h), length)
		h.Add(a)
		h.Add(blk.ff.Forward(blk.normFF.Forward(h)))
		attn = w
	}
	enc.normTop.Apply(h)

	if enc.bridge != nil {
		h = enc.bridge.Forward(h)
	}
	return h, length, attn
}
