package data

import (
	"errors"
	"slices"
	"testing"
)

func TestFilterJointCondition(t *testing.T) {
	f := DefaultFilterConfig()
	cases := []struct {
		frames int
		text   string
		g      LabelGranularity
		keep   bool
	}{
		{1200, "4 5", GranularityWord, false},      // short and long
		{1200, "4 5 6 7", GranularityWord, true},   // long but not short
		{900, "4", GranularityWord, true},          // short but not long
		{1000, "4 5 6", GranularityWord, false},    // both bounds inclusive
		{1600, "4 5 6 7", GranularityWord, false},  // above the ceiling
		{1580, "4 5 6 7", GranularityWord, true},   // at the ceiling
		{1200, "4 5 6 7", GranularityOther, false}, // 4 <= 24
	}
	for _, c := range cases {
		u := Utterance{FrameNum: c.frames, Transcript: c.text}
		if got := f.Keep(u, c.g); got != c.keep {
			t.Errorf("Keep(frames=%d, %q, %d) = %v, want %v", c.frames, c.text, c.g, got, c.keep)
		}
	}
}

func testUtts() []Utterance {
	return []Utterance{
		{FrameNum: 300, InputPath: "/f/c.npy", Transcript: "4 5"},
		{FrameNum: 100, InputPath: "/f/a.npy", Transcript: "4"},
		{FrameNum: 300, InputPath: "/f/b.npy", Transcript: "6 7 8"},
		{FrameNum: 1200, InputPath: "/f/d.npy", Transcript: "4"},
		{FrameNum: 1700, InputPath: "/f/e.npy", Transcript: "4 5 6 7 8"},
	}
}

func paths(c *Corpus) []string {
	var out []string
	for _, r := range c.Records() {
		out = append(out, r.InputPath)
	}
	return out
}

func TestCorpusSortStable(t *testing.T) {
	spec := CorpusSpec{Split: Split{Name: "train"}, LabelType: "word", Filter: DefaultFilterConfig(), Sort: SortByFrames}
	c, err := NewCorpus(testUtts(), spec)
	if err != nil {
		t.Fatal(err)
	}
	// d (short + long) and e (above ceiling) are filtered; c keeps its place before b.
	if want := []string{"/f/a.npy", "/f/c.npy", "/f/b.npy"}; !slices.Equal(paths(c), want) {
		t.Errorf("ascending = %v, want %v", paths(c), want)
	}

	spec.Descending = true
	c, _ = NewCorpus(testUtts(), spec)
	if want := []string{"/f/c.npy", "/f/b.npy", "/f/a.npy"}; !slices.Equal(paths(c), want) {
		t.Errorf("descending = %v, want %v", paths(c), want)
	}

	spec.Sort = SortByPath
	c, _ = NewCorpus(testUtts(), spec)
	if want := []string{"/f/a.npy", "/f/b.npy", "/f/c.npy"}; !slices.Equal(paths(c), want) {
		t.Errorf("by path = %v, want %v", paths(c), want)
	}
	if c.TotalFrames() != 700 {
		t.Errorf("TotalFrames = %d", c.TotalFrames())
	}
}

func TestCorpusEvalSkipsFilter(t *testing.T) {
	c, err := NewCorpus(testUtts(), CorpusSpec{Split: Split{Name: "eval2000_swbd"}, Filter: DefaultFilterConfig()})
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 5 {
		t.Errorf("eval split has %d utterances, want all 5", c.Len())
	}
}

func TestCorpusDevCap(t *testing.T) {
	f := DefaultFilterConfig()
	f.DevCap = 2
	c, err := NewCorpus(testUtts(), CorpusSpec{Split: Split{Name: "dev"}, LabelType: "word", Filter: f, Sort: SortByPath})
	if err != nil {
		t.Fatal(err)
	}
	// The cap applies in manifest order, before sorting.
	if want := []string{"/f/a.npy", "/f/c.npy"}; !slices.Equal(paths(c), want) {
		t.Errorf("dev = %v, want %v", paths(c), want)
	}
}

func TestCorpusEmptyAfterFilter(t *testing.T) {
	utts := []Utterance{{FrameNum: 2000, InputPath: "x", Transcript: "1"}}
	_, err := NewCorpus(utts, CorpusSpec{Split: Split{Name: "train"}, Filter: DefaultFilterConfig()})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition error", err)
	}
}

func TestReadManifestsRowMismatch(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.csv", "frame_num,input_path,transcript\n10,a.npy,1 2\n20,b.npy,3\n")
	sub := writeFile(t, dir, "sub.csv", "frame_num,input_path,transcript\n10,a.npy,1 2\n")
	if _, err := ReadManifests(main, sub); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}

	noCol := writeFile(t, dir, "nocol.csv", "frame_num,path\n10,a.npy\n")
	if _, err := ReadManifests(noCol, noCol); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing column: err = %v", err)
	}
}

func TestSplitAndGranularity(t *testing.T) {
	if !(Split{Name: "eval2000_ch"}).IsEval() || !(Split{Name: "test_clean"}).IsEval() || (Split{Name: "train"}).IsEval() {
		t.Error("IsEval misclassifies splits")
	}
	if GranularityOf("word_freq10") != GranularityWord || GranularityOf("character") != GranularityOther {
		t.Error("GranularityOf misclassifies label types")
	}
	if _, err := ParseSortKey("random"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("ParseSortKey: err = %v", err)
	}
}
