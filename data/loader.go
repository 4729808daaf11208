package data

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Options configures a Loader. Field names and types line up with the
// dataset section of config.Config so the two can be copied field by field.
type Options struct {
	Split      string // "train", "dev", "eval*", "test*"
	LabelType  string // e.g. "word_freq5"; decides the short-utterance threshold
	ModelType  string // "hierarchical_attention" or "hierarchical_ctc"
	SaveFormat string // "numpy" or "htk"

	Manifest    string
	ManifestSub string
	Vocab       string
	VocabSub    string

	NumStack int
	NumSkip  int
	Splice   int
	InputDim int // raw feature width; 0 infers it from the first utterance

	BatchSize     int
	MaxEpoch      int // 0 loops forever
	Shuffle       bool
	SortUtt       bool
	Reverse       bool
	SortStopEpoch int
	Seed          uint64

	NumEnque    int // prefetch queue depth
	NumWorkers  int // concurrent batch builders
	LoadWorkers int // concurrent feature reads inside one batch

	NoFilter         bool
	ShortTokensWord  int
	ShortTokensOther int
	LongFrames       int
	MaxFrames        int
	DevCap           int

	// Logf receives progress lines. nil prints to stdout.
	Logf func(format string, args ...any)
}

// DefaultOptions mirrors the usual training setup.
func DefaultOptions() Options {
	f := DefaultFilterConfig()
	return Options{
		Split:            "train",
		LabelType:        "word_freq5",
		ModelType:        FamilyAttention.String(),
		SaveFormat:       FormatNumpy.String(),
		NumStack:         1,
		NumSkip:          1,
		Splice:           1,
		BatchSize:        32,
		NumEnque:         100,
		NumWorkers:       1,
		LoadWorkers:      1,
		ShortTokensWord:  f.ShortTokensWord,
		ShortTokensOther: f.ShortTokensOther,
		LongFrames:       f.LongFrames,
		MaxFrames:        f.MaxFrames,
		DevCap:           f.DevCap,
	}
}

// FrameConfig extracts the frame transform parameters.
func (o Options) FrameConfig() FrameConfig {
	return FrameConfig{NumStack: o.NumStack, NumSkip: o.NumSkip, Splice: o.Splice}
}

// FilterConfig extracts the utterance filter.
func (o Options) FilterConfig() FilterConfig {
	return FilterConfig{
		Enabled:          !o.NoFilter,
		ShortTokensWord:  o.ShortTokensWord,
		ShortTokensOther: o.ShortTokensOther,
		LongFrames:       o.LongFrames,
		MaxFrames:        o.MaxFrames,
		DevCap:           o.DevCap,
	}
}

type batchResult struct {
	batch *Batch
	err   error
}

// Loader iterates a corpus in mini-batches, optionally prefetching them on
// background workers.
type Loader struct {
	ID       string
	Corpus   *Corpus
	Vocab    *Vocab
	VocabSub *Vocab

	opts    Options
	pool    *Pool
	builder *Builder
	logf    func(format string, args ...any)

	mu      sync.Mutex
	started bool
	out     chan batchResult
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	err     error // first batch failure, returned by every later Next
	stopErr error // set when workers stopped before MaxEpoch was reached
}

// NewLoader resolves every enumeration, loads vocabularies and manifests,
// and prepares the id pool. Nothing is read from feature files yet.
func NewLoader(opts Options) (*Loader, error) {
	family, err := ParseModelFamily(opts.ModelType)
	if err != nil {
		return nil, err
	}
	format, err := ParseSaveFormat(opts.SaveFormat)
	if err != nil {
		return nil, err
	}
	load, err := NewFeatureLoader(format)
	if err != nil {
		return nil, err
	}
	frames := opts.FrameConfig()
	if err := frames.Validate(); err != nil {
		return nil, err
	}
	if opts.BatchSize < 1 {
		return nil, configErrorf("batch size must be >= 1, got %d", opts.BatchSize)
	}

	l := &Loader{
		ID:   uuid.NewString(),
		opts: opts,
	}
	l.logf = opts.Logf
	if l.logf == nil {
		l.logf = func(format string, args ...any) { fmt.Printf(format, args...) }
	}

	if l.Vocab, err = LoadVocab(opts.Vocab); err != nil {
		return nil, err
	}
	if l.VocabSub, err = LoadVocab(opts.VocabSub); err != nil {
		return nil, err
	}

	sortKey := SortByPath
	if opts.SortUtt {
		sortKey = SortByFrames
	}
	split := Split{Name: opts.Split}
	l.Corpus, err = BuildCorpus(CorpusSpec{
		Manifest:    opts.Manifest,
		ManifestSub: opts.ManifestSub,
		Split:       split,
		LabelType:   opts.LabelType,
		Filter:      opts.FilterConfig(),
		Sort:        sortKey,
		Descending:  opts.Reverse,
		Logf:        l.printf,
	})
	if err != nil {
		return nil, err
	}

	l.builder, err = NewBuilder(l.Corpus, load, frames, BuilderConfig{
		Family:      family,
		Eval:        split.IsEval(),
		Pad:         l.Vocab.Pad,
		SOS:         l.Vocab.SOS,
		EOS:         l.Vocab.EOS,
		PadSub:      l.VocabSub.Pad,
		SOSSub:      l.VocabSub.SOS,
		EOSSub:      l.VocabSub.EOS,
		LoadWorkers: opts.LoadWorkers,
		RawDim:      opts.InputDim,
	})
	if err != nil {
		return nil, err
	}
	if err := l.builder.CheckDeclaredWidth(); err != nil {
		return nil, err
	}

	l.pool = NewPool(l.Corpus.Len(), PoolConfig{
		MaxEpoch:      opts.MaxEpoch,
		Sorted:        opts.SortUtt,
		Shuffle:       opts.Shuffle,
		SortStopEpoch: opts.SortStopEpoch,
		Seed:          opts.Seed,
	})

	l.printf("%s split, %d utterances, %s, %s, %+v\n",
		opts.Split, l.Corpus.Len(), family, format, frames)
	return l, nil
}

func (l *Loader) printf(format string, args ...any) {
	l.logf("[%s] "+format, append([]any{l.ID[:8]}, args...)...)
}

// Builder exposes the batch builder, e.g. to change the frame config.
func (l *Loader) Builder() *Builder { return l.builder }

// Pool exposes the remaining-id pool.
func (l *Loader) Pool() *Pool { return l.pool }

// Epoch is the number of completed epochs.
func (l *Loader) Epoch() int { return l.pool.Epoch() }

// InputDim is the feature width of every batch's Inputs.
func (l *Loader) InputDim() (int, error) { return l.builder.InputDim() }

// NextBatch builds the next batch on the calling goroutine. It returns
// io.EOF once MaxEpoch epochs are done. It must not be mixed with Start.
func (l *Loader) NextBatch() (*Batch, error) {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if started {
		return nil, preconditionErrorf("NextBatch called on a started loader")
	}
	return l.next()
}

func (l *Loader) next() (*Batch, error) {
	ids, epoch, newEpoch, ok := l.pool.Take(l.opts.BatchSize)
	if !ok {
		return nil, io.EOF
	}
	b, err := l.builder.MakeBatch(ids)
	if err != nil {
		return nil, err
	}
	b.Epoch = epoch
	b.NewEpoch = newEpoch
	if newEpoch {
		l.printf("epoch %d done\n", epoch)
	}
	return b, nil
}

// Start launches NumWorkers goroutines that build batches ahead of
// consumption into a queue of depth NumEnque. Workers stop at the next
// subset boundary once ctx is done or Close is called.
func (l *Loader) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)
	l.out = make(chan batchResult, max(l.opts.NumEnque, 1))
	workers := max(l.opts.NumWorkers, 1)

	l.printf("starting %d workers, queue depth %d\n", workers, cap(l.out))
	l.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer l.wg.Done()
			l.worker(ctx)
		}()
	}
	go func() {
		l.wg.Wait()
		if err := ctx.Err(); err != nil && !l.pool.Exhausted() {
			l.mu.Lock()
			l.stopErr = err
			l.mu.Unlock()
		}
		close(l.out)
	}()
}

func (l *Loader) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		b, err := l.next()
		if err == io.EOF {
			return
		}
		select {
		case l.out <- batchResult{batch: b, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			l.cancel()
			return
		}
	}
}

// Next returns the next prefetched batch. It returns io.EOF only when all
// epochs are consumed. Workers stopped early by cancellation surface the
// context's error instead, and a build error is returned for every call
// after the first one.
func (l *Loader) Next(ctx context.Context) (*Batch, error) {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil, preconditionErrorf("Next called before Start")
	}
	if l.err != nil {
		err := l.err
		l.mu.Unlock()
		return nil, err
	}
	out := l.out
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-out:
		if !ok {
			l.mu.Lock()
			err := l.stopErr
			l.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		if res.err != nil {
			l.mu.Lock()
			l.err = res.err
			l.mu.Unlock()
			l.printf("batch failed (%s): %v\n", Classify(res.err), res.err)
			return nil, res.err
		}
		return res.batch, nil
	}
}

// Close stops the workers and waits for them to exit.
func (l *Loader) Close() {
	l.mu.Lock()
	if !l.started || l.cancel == nil {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
	l.printf("stopped at epoch %d\n", l.pool.Epoch())
}
