package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"runtime"
	"strings"

	"github.com/b0tShaman/neuro-sp/config"
	"github.com/b0tShaman/neuro-sp/data"
	"github.com/b0tShaman/neuro-sp/ml"
)

var (
	configPath = flag.String("config", "", "YAML config file (defaults when empty)")
	epochs     = flag.Int("epochs", 0, "override dataset.max_epoch")
	workers    = flag.Int("workers", 0, "batch builders and encoder workers (0 keeps the config)")
	encode     = flag.Bool("encode", false, "run every batch through the encoder")
	decode     = flag.Bool("decode", false, "greedy CTC decode the encoder outputs (implies -encode)")
	verbose    = flag.Int("verbose", 10, "print every n-th batch")
)

// summary counts what a run consumed.
type summary struct {
	Batches    int
	Utterances int
	Epochs     int
}

// -------- MAIN -------- //
func main() {
	flag.Parse()

	// Hardware Setup
	G := runtime.GOMAXPROCS(runtime.NumCPU())

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fail(err)
		}
	}
	if *epochs > 0 {
		cfg.Dataset.MaxEpoch = *epochs
	}
	if *workers > 0 {
		cfg.Dataset.NumWorkers = *workers
		cfg.Encoder.Workers = *workers
	}
	if *decode {
		*encode = true
	}
	cfg.Encoder.Enabled = cfg.Encoder.Enabled || *encode

	fmt.Printf("Running on %d cores (batch = %d, workers = %d)\n\n", G, cfg.Dataset.BatchSize, cfg.Dataset.NumWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := run(ctx, cfg, *decode, *verbose)
	if err != nil {
		fail(err)
	}
	fmt.Printf("✅ %d batches, %d utterances, %d epochs\n", s.Batches, s.Utterances, s.Epochs)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error (%s): %v\n", data.Classify(err), err)
	os.Exit(1)
}

// run drains the loader until MaxEpoch epochs are done, optionally encoding
// and decoding every batch on the way.
func run(ctx context.Context, cfg *config.Config, decode bool, every int) (summary, error) {
	var s summary

	opts, err := cfg.LoaderOptions()
	if err != nil {
		return s, err
	}
	if opts.MaxEpoch < 1 {
		opts.MaxEpoch = 1
	}

	loader, err := data.NewLoader(opts)
	if err != nil {
		return s, err
	}
	fmt.Printf("Loaded corpus: %d utterances, %d frames, vocab %d/%d\n",
		loader.Corpus.Len(), loader.Corpus.TotalFrames(), loader.Vocab.Size(), loader.VocabSub.Size())

	var enc *ml.TransformerEncoder
	var head *ml.CTCHead
	if cfg.Encoder.Enabled {
		dim, err := loader.InputDim()
		if err != nil {
			return s, err
		}
		if enc, err = ml.NewTransformerEncoder(dim, cfg.EncoderOptions()...); err != nil {
			return s, data.WrapConfig(err, "build encoder")
		}
		fmt.Printf("Encoder: %d -> %d (%d layers, %d heads)\n",
			dim, enc.OutputDim(), enc.Config.Layers, enc.Config.Heads)
		if decode {
			// Untrained projection; only the decoding path is exercised.
			rng := rand.New(rand.NewPCG(cfg.Encoder.Seed, 0))
			head = ml.NewCTCHead(enc.OutputDim(), loader.Vocab.Size(), loader.Vocab.Pad, rng)
		}
	}

	loader.Start(ctx)
	defer loader.Close()

	for {
		b, err := loader.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return s, err
		}
		s.Batches++
		s.Utterances += b.Size()
		if b.NewEpoch {
			s.Epochs++
		}

		show := every > 0 && s.Batches%every == 1%every
		if show {
			fmt.Printf("batch %d (epoch %d): inputs [%d, %d, %d], labels [%d, %d], sub [%d, %d]\n",
				s.Batches, b.Epoch, b.Inputs.B, b.Inputs.T, b.Inputs.F,
				b.Labels.Rows, b.Labels.Cols, b.LabelsSub.Rows, b.LabelsSub.Cols)
		}
		if enc == nil {
			continue
		}

		out := enc.Forward(b.Inputs, b.InputLens)
		if show {
			fmt.Printf("  encoded [%d, %d, %d], attention entropy %.3f nats\n",
				out.Outputs.B, out.Outputs.T, out.Outputs.F, meanEntropy(out))
		}
		if head != nil && show {
			hyp := loader.Vocab.Decode(head.GreedyDecode(out.Example(0), out.Lens[0]))
			fmt.Printf("  %s: %q\n", b.Names[0], truncate(hyp, 60))
			if b.Transcripts != nil {
				fmt.Printf("  %s  ref: %q\n", strings.Repeat(" ", len(b.Names[0])), truncate(b.Transcripts[0], 60))
			}
		}
	}
	return s, nil
}

// meanEntropy averages the last block's attention entropy over heads and
// examples, counting real frames only.
func meanEntropy(out ml.EncoderOutput) float64 {
	total, n := 0.0, 0
	for b, heads := range out.Attention {
		for _, w := range heads {
			total += ml.Entropy(w, out.Lens[b])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
