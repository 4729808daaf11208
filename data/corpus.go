package data

import (
	"slices"
	"strings"
)

// Split identifies which partition a corpus is built from.
type Split struct {
	Name string
}

// IsEval reports whether the split is an evaluation split. Evaluation splits
// are never filtered and carry raw reference text instead of label ids.
func (s Split) IsEval() bool {
	n := strings.ToLower(s.Name)
	return strings.Contains(n, "eval") || strings.Contains(n, "test")
}

// IsDev reports whether the split is the capped development split.
func (s Split) IsDev() bool { return strings.ToLower(s.Name) == "dev" }

// LabelGranularity decides which short-utterance threshold applies.
type LabelGranularity int

const (
	GranularityWord LabelGranularity = iota
	GranularityOther
)

// GranularityOf maps a label type name such as "word_freq5" or "character".
func GranularityOf(labelType string) LabelGranularity {
	if strings.Contains(labelType, "word") {
		return GranularityWord
	}
	return GranularityOther
}

// FilterConfig drops utterances unsuited for training.
//
// An utterance is dropped when it has at most ShortTokens* tokens AND at
// least LongFrames frames. Independently, utterances with more than
// MaxFrames frames are dropped. The dev split is then truncated to DevCap.
type FilterConfig struct {
	Enabled          bool
	ShortTokensWord  int
	ShortTokensOther int
	LongFrames       int
	MaxFrames        int
	DevCap           int
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Enabled:          true,
		ShortTokensWord:  3,
		ShortTokensOther: 24,
		LongFrames:       1000,
		MaxFrames:        1580,
		DevCap:           4000,
	}
}

func (f FilterConfig) shortThreshold(g LabelGranularity) int {
	if g == GranularityWord {
		return f.ShortTokensWord
	}
	return f.ShortTokensOther
}

// Keep reports whether u survives the filter.
func (f FilterConfig) Keep(u Utterance, g LabelGranularity) bool {
	if u.NumTokens() <= f.shortThreshold(g) && u.FrameNum >= f.LongFrames {
		return false
	}
	return f.MaxFrames <= 0 || u.FrameNum <= f.MaxFrames
}

// SortKey selects the fixed iteration order of a corpus.
type SortKey int

const (
	SortByPath SortKey = iota
	SortByFrames
)

// ParseSortKey accepts "path" / "input_path" and "frames" / "frame_num".
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "path", "input_path":
		return SortByPath, nil
	case "frames", "frame_num", "duration":
		return SortByFrames, nil
	default:
		return 0, configErrorf("unknown sort key %q", s)
	}
}

// CorpusSpec describes how to build a corpus.
type CorpusSpec struct {
	Manifest    string
	ManifestSub string
	Split       Split
	LabelType   string
	Filter      FilterConfig
	Sort        SortKey
	Descending  bool // only honored for SortByFrames
	Logf        func(format string, args ...any)
}

// Corpus is the ordered, immutable utterance table. Ids are positions in
// the post-filter, post-sort order.
type Corpus struct {
	split   Split
	records []Utterance
}

// BuildCorpus loads both manifests, filters non-evaluation splits and sorts.
func BuildCorpus(spec CorpusSpec) (*Corpus, error) {
	utts, err := ReadManifests(spec.Manifest, spec.ManifestSub)
	if err != nil {
		return nil, err
	}
	return NewCorpus(utts, spec)
}

// NewCorpus applies the filter and sort of spec to already loaded
// utterances. utts is not modified.
func NewCorpus(utts []Utterance, spec CorpusSpec) (*Corpus, error) {
	logf := spec.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	records := slices.Clone(utts)
	if !spec.Split.IsEval() && spec.Filter.Enabled {
		logf("Original utterance num: %d\n", len(records))
		g := GranularityOf(spec.LabelType)
		records = slices.DeleteFunc(records, func(u Utterance) bool {
			return !spec.Filter.Keep(u, g)
		})
		if spec.Split.IsDev() && spec.Filter.DevCap > 0 && len(records) > spec.Filter.DevCap {
			records = records[:spec.Filter.DevCap]
		}
		logf("Restricted utterance num: %d\n", len(records))
	}
	if len(records) == 0 {
		return nil, preconditionErrorf("split %q has no utterances after filtering", spec.Split.Name)
	}

	switch spec.Sort {
	case SortByFrames:
		slices.SortStableFunc(records, func(a, b Utterance) int {
			if spec.Descending {
				return b.FrameNum - a.FrameNum
			}
			return a.FrameNum - b.FrameNum
		})
	case SortByPath:
		slices.SortStableFunc(records, func(a, b Utterance) int {
			return strings.Compare(a.InputPath, b.InputPath)
		})
	default:
		return nil, configErrorf("unknown sort key %d", spec.Sort)
	}

	return &Corpus{split: spec.Split, records: records}, nil
}

func (c *Corpus) Split() Split            { return c.split }
func (c *Corpus) Len() int                { return len(c.records) }
func (c *Corpus) Record(id int) Utterance { return c.records[id] }

// Records returns a copy of the table in iteration order.
func (c *Corpus) Records() []Utterance { return slices.Clone(c.records) }

// TotalFrames sums the manifest frame counts.
func (c *Corpus) TotalFrames() int {
	total := 0
	for _, r := range c.records {
		total += r.FrameNum
	}
	return total
}
