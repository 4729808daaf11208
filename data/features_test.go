package data

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestLoadNpy(t *testing.T) {
	dir := t.TempDir()
	want := seqFeatures(6, 4)
	path := writeNpy(t, dir, "utt.npy", want)

	got, err := LoadNpy(path)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(got, want) {
		t.Fatalf("LoadNpy =\n%v\nwant\n%v", mat.Formatted(got), mat.Formatted(want))
	}
}

func TestLoadHTK(t *testing.T) {
	dir := t.TempDir()
	want := seqFeatures(5, 3)
	path := writeHTK(t, dir, "utt.htk", want, 9)

	got, err := LoadHTK(path)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(got, want) {
		t.Fatalf("LoadHTK =\n%v\nwant\n%v", mat.Formatted(got), mat.Formatted(want))
	}
}

func TestLoadZeroFrames(t *testing.T) {
	dir := t.TempDir()
	for name, load := range map[string]FeatureLoader{
		writeHTK(t, dir, "empty.htk", emptyFeatures(3), 9): LoadHTK,
		writeEmptyNpy(t, dir, "empty.npy", 3):               LoadNpy,
	} {
		got, err := load(name)
		if err != nil {
			t.Fatalf("%s: %v", filepath.Base(name), err)
		}
		if r, c := got.Dims(); r != 0 || c != 3 {
			t.Errorf("%s: dims = [%d, %d], want [0, 3]", filepath.Base(name), r, c)
		}
	}
}

func TestLoadHTKRejectsCompressed(t *testing.T) {
	dir := t.TempDir()
	path := writeHTK(t, dir, "utt.htk", seqFeatures(2, 2), 9|htkCompressed)
	if _, err := LoadHTK(path); !errors.Is(err, ErrIO) {
		t.Fatalf("err = %v, want io error", err)
	}
}

func TestLoadHTKTruncated(t *testing.T) {
	dir := t.TempDir()
	path := writeHTK(t, dir, "utt.htk", seqFeatures(4, 2), 9)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw[:len(raw)-3], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHTK(path); !errors.Is(err, ErrIO) {
		t.Fatalf("err = %v, want io error", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.npy")
	_, err := LoadNpy(path)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("err = %v, want io error", err)
	}
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Errorf("cause %T is not kept", err)
	}
	if Classify(err) != CodeIO {
		t.Errorf("Classify = %s", Classify(err))
	}
}

func TestSaveFormat(t *testing.T) {
	for in, want := range map[string]SaveFormat{"numpy": FormatNumpy, "HTK": FormatHTK, "": FormatNumpy} {
		got, err := ParseSaveFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseSaveFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSaveFormat("kaldi"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("unknown format: err = %v", err)
	}
	if _, err := NewFeatureLoader(SaveFormat(7)); !errors.Is(err, ErrConfiguration) {
		t.Errorf("unknown format value: err = %v", err)
	}
}
