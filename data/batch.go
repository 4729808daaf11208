package data

import (
	"path/filepath"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ModelFamily selects the label encoding.
type ModelFamily int

const (
	// FamilyAttention frames every label sequence as SOS, tokens, EOS.
	FamilyAttention ModelFamily = iota
	// FamilyCTC writes the tokens only.
	FamilyCTC
)

func (m ModelFamily) String() string {
	switch m {
	case FamilyAttention:
		return "hierarchical_attention"
	case FamilyCTC:
		return "hierarchical_ctc"
	default:
		return "unknown"
	}
}

// ParseModelFamily accepts the long model_type names and their short forms.
func ParseModelFamily(s string) (ModelFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hierarchical_attention", "attention":
		return FamilyAttention, nil
	case "hierarchical_ctc", "ctc":
		return FamilyCTC, nil
	default:
		return 0, configErrorf("unknown model type %q", s)
	}
}

// -------- TENSORS -------- //

// Tensor3 is a dense [B, T, F] float64 tensor stored row-major in one slice.
type Tensor3 struct {
	B, T, F int
	Data    []float64
}

func NewTensor3(b, t, f int) *Tensor3 {
	return &Tensor3{B: b, T: t, F: f, Data: make([]float64, b*t*f)}
}

// At returns element [b, t, f].
func (x *Tensor3) At(b, t, f int) float64 {
	return x.Data[(b*x.T+t)*x.F+f]
}

// Example returns example b's [T, F] block as a slice sharing storage.
func (x *Tensor3) Example(b int) []float64 {
	n := x.T * x.F
	return x.Data[b*n : (b+1)*n]
}

// Frame returns example b as a [T, F] matrix view sharing storage.
func (x *Tensor3) Frame(b int) *mat.Dense {
	if x.T == 0 {
		return emptyFeatures(x.F)
	}
	if x.F == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(x.T, x.F, x.Example(b))
}

// IntMatrix is a dense [Rows, Cols] int matrix.
type IntMatrix struct {
	Rows, Cols int
	Data       []int
}

// NewIntMatrix allocates a matrix with every entry set to fill.
func NewIntMatrix(rows, cols, fill int) *IntMatrix {
	m := &IntMatrix{Rows: rows, Cols: cols, Data: make([]int, rows*cols)}
	if fill != 0 {
		for i := range m.Data {
			m.Data[i] = fill
		}
	}
	return m
}

func (m *IntMatrix) At(r, c int) int { return m.Data[r*m.Cols+c] }

// Row returns row r sharing storage.
func (m *IntMatrix) Row(r int) []int { return m.Data[r*m.Cols : (r+1)*m.Cols] }

// -------- BATCH -------- //

// Batch is one padded mini-batch. Tensor shapes are maxima within the batch;
// the length vectors are the only record of real content extent.
type Batch struct {
	Inputs       *Tensor3
	InputLens    []int
	Labels       *IntMatrix
	LabelLens    []int
	LabelsSub    *IntMatrix
	LabelLensSub []int
	Names        []string

	// Raw reference text, filled instead of label ids for evaluation splits.
	Transcripts    []string
	TranscriptsSub []string

	IDs      []int
	Epoch    int
	NewEpoch bool
}

// Size is the number of examples.
func (b *Batch) Size() int { return len(b.IDs) }

// UtteranceName is the input file's base name up to its first dot.
func UtteranceName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// -------- BUILDER -------- //

// BuilderConfig holds everything fixed for a builder's lifetime except the
// frame configuration.
type BuilderConfig struct {
	Family      ModelFamily
	Eval        bool
	Pad         int // main task pad index
	SOS         int
	EOS         int
	PadSub      int
	SOSSub      int
	EOSSub      int
	LoadWorkers int // parallel feature reads per batch; <=1 is sequential

	// RawDim declares the untransformed feature width. When zero it is
	// inferred from the first loaded utterance.
	RawDim int
}

// Builder turns id subsets of a corpus into padded batches.
type Builder struct {
	corpus *Corpus
	load   FeatureLoader
	cfg    BuilderConfig

	mu       sync.Mutex
	frames   FrameConfig
	inputDim int // 0 until the first utterance is loaded
}

func NewBuilder(corpus *Corpus, load FeatureLoader, frames FrameConfig, cfg BuilderConfig) (*Builder, error) {
	if err := frames.Validate(); err != nil {
		return nil, err
	}
	if cfg.Family != FamilyAttention && cfg.Family != FamilyCTC {
		return nil, configErrorf("unknown model family %d", cfg.Family)
	}
	return &Builder{corpus: corpus, load: load, cfg: cfg, frames: frames}, nil
}

// SetFrameConfig replaces the stacking/splicing parameters and drops the
// cached feature width.
func (bl *Builder) SetFrameConfig(frames FrameConfig) error {
	if err := frames.Validate(); err != nil {
		return err
	}
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.frames = frames
	bl.inputDim = 0
	return nil
}

func (bl *Builder) FrameConfig() FrameConfig {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.frames
}

// InputDim returns the transformed feature width, loading the first
// utterance of the corpus if it is not known yet.
func (bl *Builder) InputDim() (int, error) {
	_, dim, err := bl.ensureInputDim(bl.corpus.Record(0).InputPath)
	return dim, err
}

// CheckDeclaredWidth loads the first utterance and rejects it when its
// width differs from the declared RawDim. Without a declared width it does
// nothing.
func (bl *Builder) CheckDeclaredWidth() error {
	if bl.cfg.RawDim <= 0 || bl.corpus.Len() == 0 {
		return nil
	}
	r := bl.corpus.Record(0)
	x, err := bl.load(r.InputPath)
	if err != nil {
		return err
	}
	if _, f := x.Dims(); f != bl.cfg.RawDim {
		return configErrorf("%s: feature width %d does not match declared input_dim %d",
			r.InputPath, f, bl.cfg.RawDim)
	}
	_, err = bl.FrameConfig().Apply(x)
	return err
}

// ensureInputDim returns a consistent snapshot of the frame config and the
// feature width, inferring the width from path if needed.
func (bl *Builder) ensureInputDim(path string) (FrameConfig, int, error) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.inputDim > 0 {
		return bl.frames, bl.inputDim, nil
	}
	rawDim := bl.cfg.RawDim
	if rawDim <= 0 {
		x, err := bl.load(path)
		if err != nil {
			return bl.frames, 0, err
		}
		_, rawDim = x.Dims()
	}
	bl.inputDim = bl.frames.OutputDim(rawDim)
	return bl.frames, bl.inputDim, nil
}

// MakeBatch builds the batch for ids, in the given order. It either returns
// a fully populated batch or an error; nothing partial escapes.
func (bl *Builder) MakeBatch(ids []int) (*Batch, error) {
	if len(ids) == 0 {
		return nil, preconditionErrorf("make batch: empty id subset")
	}
	for _, id := range ids {
		if id < 0 || id >= bl.corpus.Len() {
			return nil, preconditionErrorf("make batch: id %d out of range [0, %d)", id, bl.corpus.Len())
		}
	}

	recs := make([]Utterance, len(ids))
	for i, id := range ids {
		recs[i] = bl.corpus.Record(id)
	}

	frames, dim, err := bl.ensureInputDim(recs[0].InputPath)
	if err != nil {
		return nil, err
	}

	maxFrames, maxTokens, maxTokensSub := 0, 0, 0
	for _, r := range recs {
		maxFrames = max(maxFrames, r.FrameNum)
		maxTokens = max(maxTokens, r.NumTokens())
		maxTokensSub = max(maxTokensSub, r.NumTokensSub())
	}
	tMax := frames.OutputLen(maxFrames)
	lMax := maxTokens + 2 // SOS + EOS
	lMaxSub := maxTokensSub + 2

	n := len(ids)
	batch := &Batch{
		Inputs:       NewTensor3(n, tMax, dim),
		InputLens:    make([]int, n),
		Labels:       NewIntMatrix(n, lMax, bl.cfg.Pad),
		LabelLens:    make([]int, n),
		LabelsSub:    NewIntMatrix(n, lMaxSub, bl.cfg.PadSub),
		LabelLensSub: make([]int, n),
		Names:        make([]string, n),
		IDs:          append([]int(nil), ids...),
	}
	if bl.cfg.Eval {
		batch.Transcripts = make([]string, n)
		batch.TranscriptsSub = make([]string, n)
	}

	for i, r := range recs {
		batch.Names[i] = UtteranceName(r.InputPath)
		if err := bl.encodeLabels(batch, i, r); err != nil {
			return nil, err
		}
	}

	if err := bl.loadInputs(batch, recs, frames); err != nil {
		return nil, err
	}
	return batch, nil
}

func (bl *Builder) encodeLabels(batch *Batch, i int, r Utterance) error {
	if bl.cfg.Eval {
		batch.Transcripts[i] = r.Transcript
		batch.TranscriptsSub[i] = r.TranscriptSub
		return nil
	}
	tokens, err := r.Tokens()
	if err != nil {
		return err
	}
	tokensSub, err := r.TokensSub()
	if err != nil {
		return err
	}
	batch.LabelLens[i] = writeLabels(batch.Labels.Row(i), tokens, bl.cfg.Family, bl.cfg.SOS, bl.cfg.EOS)
	batch.LabelLensSub[i] = writeLabels(batch.LabelsSub.Row(i), tokensSub, bl.cfg.Family, bl.cfg.SOSSub, bl.cfg.EOSSub)
	return nil
}

// writeLabels fills the head of a pad-initialized row and returns its length.
func writeLabels(row, tokens []int, family ModelFamily, sos, eos int) int {
	switch family {
	case FamilyAttention:
		row[0] = sos
		copy(row[1:], tokens)
		row[len(tokens)+1] = eos
		return len(tokens) + 2
	case FamilyCTC:
		copy(row, tokens)
		return len(tokens)
	default:
		panic("writeLabels: unknown model family")
	}
}

// loadInputs reads, transforms and writes every example's features. With
// LoadWorkers > 1 examples are split across goroutines, each owning a
// disjoint set of rows.
func (bl *Builder) loadInputs(batch *Batch, recs []Utterance, frames FrameConfig) error {
	workers := min(max(bl.cfg.LoadWorkers, 1), len(recs))
	if workers == 1 {
		for i, r := range recs {
			if err := bl.loadOne(batch, i, r, frames); err != nil {
				return err
			}
		}
		return nil
	}

	errs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for i := id; i < len(recs); i += workers {
				if err := bl.loadOne(batch, i, recs[i], frames); err != nil {
					errs[id] = err
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (bl *Builder) loadOne(batch *Batch, i int, r Utterance, frames FrameConfig) error {
	raw, err := bl.load(r.InputPath)
	if err != nil {
		return err
	}
	x, err := frames.Apply(raw)
	if err != nil {
		return err
	}
	t, f := x.Dims()
	if f != batch.Inputs.F {
		if bl.cfg.RawDim > 0 {
			return configErrorf("%s: feature width %d does not match declared width %d with %+v",
				r.InputPath, f, batch.Inputs.F, frames)
		}
		return ioErrorf("%s: feature width %d, expected %d", r.InputPath, f, batch.Inputs.F)
	}
	if t > batch.Inputs.T {
		return ioErrorf("%s: %d frames after stacking, manifest allows %d", r.InputPath, t, batch.Inputs.T)
	}

	dst := batch.Inputs.Example(i)
	for row := 0; row < t; row++ {
		copy(dst[row*f:(row+1)*f], x.RawRowView(row))
	}
	batch.InputLens[i] = t
	return nil
}
