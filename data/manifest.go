package data

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
)

// Utterance is one manifest row joined with its sub-task transcript.
type Utterance struct {
	FrameNum      int
	InputPath     string
	Transcript    string // whitespace separated token ids, or raw text for evaluation splits
	TranscriptSub string
}

// Tokens parses the main transcript as label ids.
func (u Utterance) Tokens() ([]int, error) { return parseTokens(u.Transcript) }

// TokensSub parses the sub-task transcript as label ids.
func (u Utterance) TokensSub() ([]int, error) { return parseTokens(u.TranscriptSub) }

// NumTokens counts whitespace separated entries of the main transcript.
func (u Utterance) NumTokens() int { return len(strings.Fields(u.Transcript)) }

// NumTokensSub counts whitespace separated entries of the sub-task transcript.
func (u Utterance) NumTokensSub() int { return len(strings.Fields(u.TranscriptSub)) }

func parseTokens(s string) ([]int, error) {
	fields := strings.Fields(s)
	ids := make([]int, len(fields))
	for i, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, wrapConfig(err, "transcript token %q is not an index", f)
		}
		ids[i] = id
	}
	return ids, nil
}

type manifestRow struct {
	frameNum   int
	inputPath  string
	transcript string
}

// readManifest reads a CSV manifest with a header row naming at least
// frame_num, input_path and transcript. Any other column is ignored.
func readManifest(path string) ([]manifestRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapConfig(err, "open manifest")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, wrapConfig(err, "read manifest header %s", path)
	}
	col := map[string]int{"frame_num": -1, "input_path": -1, "transcript": -1}
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, ok := col[name]; ok {
			col[name] = i
		}
	}
	for name, i := range col {
		if i < 0 {
			return nil, configErrorf("%s: manifest has no %q column", path, name)
		}
	}

	var rows []manifestRow
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapConfig(err, "read manifest %s", path)
		}
		get := func(name string) string {
			if i := col[name]; i < len(rec) {
				return rec[i]
			}
			return ""
		}
		n, err := strconv.Atoi(strings.TrimSpace(get("frame_num")))
		if err != nil {
			return nil, wrapConfig(err, "%s:%d: frame_num", path, line)
		}
		if n < 0 {
			return nil, configErrorf("%s:%d: negative frame_num %d", path, line, n)
		}
		rows = append(rows, manifestRow{
			frameNum:   n,
			inputPath:  strings.TrimSpace(get("input_path")),
			transcript: strings.TrimSpace(get("transcript")),
		})
	}
	return rows, nil
}

// ReadManifests loads the main and sub-task manifests and joins them by row
// position. Differing row counts are a configuration error.
func ReadManifests(mainPath, subPath string) ([]Utterance, error) {
	mainRows, err := readManifest(mainPath)
	if err != nil {
		return nil, err
	}
	subRows, err := readManifest(subPath)
	if err != nil {
		return nil, err
	}
	if len(mainRows) != len(subRows) {
		return nil, configErrorf("manifest row counts differ: %s has %d, %s has %d",
			mainPath, len(mainRows), subPath, len(subRows))
	}

	utts := make([]Utterance, len(mainRows))
	for i, m := range mainRows {
		utts[i] = Utterance{
			FrameNum:      m.frameNum,
			InputPath:     m.inputPath,
			Transcript:    m.transcript,
			TranscriptSub: subRows[i].transcript,
		}
	}
	return utts, nil
}
