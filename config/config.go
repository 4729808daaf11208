package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/up-zero/gotool/convertutil"
	"gopkg.in/yaml.v3"

	"github.com/b0tShaman/neuro-sp/data"
	"github.com/b0tShaman/neuro-sp/ml"
)

// Config represents a run of the batch pipeline and the optional encoder
type Config struct {
	Dataset DatasetConfig `yaml:"dataset"`
	Encoder EncoderConfig `yaml:"encoder"`
}

// DatasetConfig mirrors data.Options field by field.
type DatasetConfig struct {
	Split      string `yaml:"split"`
	LabelType  string `yaml:"label_type"`
	ModelType  string `yaml:"model_type"`
	SaveFormat string `yaml:"save_format"`

	Manifest    string `yaml:"manifest"`
	ManifestSub string `yaml:"manifest_sub"`
	Vocab       string `yaml:"vocab"`
	VocabSub    string `yaml:"vocab_sub"`

	NumStack int `yaml:"num_stack"`
	NumSkip  int `yaml:"num_skip"`
	Splice   int `yaml:"splice"`
	InputDim int `yaml:"input_dim"`

	BatchSize     int    `yaml:"batch_size"`
	MaxEpoch      int    `yaml:"max_epoch"`
	Shuffle       bool   `yaml:"shuffle"`
	SortUtt       bool   `yaml:"sort_utt"`
	Reverse       bool   `yaml:"reverse"`
	SortStopEpoch int    `yaml:"sort_stop_epoch"`
	Seed          uint64 `yaml:"seed"`

	NumEnque    int `yaml:"num_enque"`
	NumWorkers  int `yaml:"num_workers"`
	LoadWorkers int `yaml:"load_workers"`

	NoFilter         bool `yaml:"no_filter"`
	ShortTokensWord  int  `yaml:"short_tokens_word"`
	ShortTokensOther int  `yaml:"short_tokens_other"`
	LongFrames       int  `yaml:"long_frames"`
	MaxFrames        int  `yaml:"max_frames"`
	DevCap           int  `yaml:"dev_cap"`
}

// ConvLayerConfig is one CNN block; pairs are (frequency, time).
type ConvLayerConfig struct {
	Channels int   `yaml:"channels"`
	Kernel   []int `yaml:"kernel"`
	Stride   []int `yaml:"stride"`
	Pool     []int `yaml:"pool,omitempty"`
}

type EncoderConfig struct {
	Enabled      bool              `yaml:"enabled"`
	DModel       int               `yaml:"d_model"`
	Heads        int               `yaml:"heads"`
	Layers       int               `yaml:"layers"`
	DFF          int               `yaml:"d_ff"`
	PEType       string            `yaml:"pe_type"`
	LayerNormEps float64           `yaml:"layer_norm_eps"`
	LastProjDim  int               `yaml:"last_proj_dim"`
	Conv         []ConvLayerConfig `yaml:"conv,omitempty"`
	Seed         uint64            `yaml:"seed"`
	Workers      int               `yaml:"workers"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Dataset defaults
	opts := data.DefaultOptions()
	cfg.Dataset = DatasetConfig{
		Split:            opts.Split,
		LabelType:        opts.LabelType,
		ModelType:        opts.ModelType,
		SaveFormat:       opts.SaveFormat,
		NumStack:         opts.NumStack,
		NumSkip:          opts.NumSkip,
		Splice:           opts.Splice,
		BatchSize:        opts.BatchSize,
		NumEnque:         opts.NumEnque,
		NumWorkers:       opts.NumWorkers,
		LoadWorkers:      opts.LoadWorkers,
		ShortTokensWord:  opts.ShortTokensWord,
		ShortTokensOther: opts.ShortTokensOther,
		LongFrames:       opts.LongFrames,
		MaxFrames:        opts.MaxFrames,
		DevCap:           opts.DevCap,
	}

	// Encoder defaults
	cfg.Encoder.DModel = 256
	cfg.Encoder.Heads = 4
	cfg.Encoder.Layers = 6
	cfg.Encoder.DFF = 1024
	cfg.Encoder.PEType = "add"
	cfg.Encoder.LayerNormEps = 1e-6
	cfg.Encoder.Seed = 1
	cfg.Encoder.Workers = 1

	return cfg
}

// Load reads path over the defaults and validates the result
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, data.WrapConfig(err, "failed to parse config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	if err := os.WriteFile(path, raw, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// Validate checks enumerations and shapes without touching the filesystem.
func (c *Config) Validate() error {
	d := c.Dataset
	if _, err := data.ParseModelFamily(d.ModelType); err != nil {
		return errors.Wrap(err, "dataset")
	}
	if _, err := data.ParseSaveFormat(d.SaveFormat); err != nil {
		return errors.Wrap(err, "dataset")
	}
	frames := data.FrameConfig{NumStack: d.NumStack, NumSkip: d.NumSkip, Splice: d.Splice}
	if err := frames.Validate(); err != nil {
		return errors.Wrap(err, "dataset")
	}
	if d.BatchSize < 1 {
		return data.ConfigErrorf("dataset: batch_size must be >= 1, got %d", d.BatchSize)
	}

	if !c.Encoder.Enabled {
		return nil
	}
	for i, l := range c.Encoder.Conv {
		if len(l.Kernel) != 2 || len(l.Stride) != 2 || (len(l.Pool) != 0 && len(l.Pool) != 2) {
			return data.ConfigErrorf("encoder: conv layer %d needs (freq, time) pairs", i)
		}
	}
	return nil
}

// LoaderOptions converts the dataset section into data.Options.
func (c *Config) LoaderOptions() (data.Options, error) {
	opts := data.DefaultOptions()
	if err := convertutil.CopyProperties(c.Dataset, &opts); err != nil {
		return opts, data.WrapConfig(err, "copy dataset options")
	}
	return opts, nil
}

// EncoderOptions converts the encoder section into ml options.
func (c *Config) EncoderOptions() []ml.EncoderOption {
	e := c.Encoder
	opts := []ml.EncoderOption{
		ml.DModel(e.DModel),
		ml.Heads(e.Heads),
		ml.NumLayers(e.Layers),
		ml.FeedForwardDim(e.DFF),
		ml.PositionalEncodingType(e.PEType),
		ml.LayerNormEps(e.LayerNormEps),
		ml.LastProjDim(e.LastProjDim),
		ml.Seed(e.Seed),
		ml.Workers(e.Workers),
	}
	if len(e.Conv) > 0 {
		layers := make([]ml.ConvLayer, len(e.Conv))
		for i, l := range e.Conv {
			layers[i] = ml.ConvLayer{
				Channels: l.Channels,
				Kernel:   pair(l.Kernel),
				Stride:   pair(l.Stride),
				Pool:     pair(l.Pool),
			}
		}
		opts = append(opts, ml.Conv(layers...))
	}
	return opts
}

func pair(v []int) [2]int {
	if len(v) != 2 {
		return [2]int{}
	}
	return [2]int{v[0], v[1]}
}
