package data

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sbinet/npyio/npy"
	"github.com/up-zero/gotool/fileutil"
	"gonum.org/v1/gonum/mat"
)

// --- Fixture helpers ---

func writeFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := fileutil.FileSave(path, []byte(content)); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return path
}

// seqFeatures returns a [rows, cols] matrix whose entry (t, f) is t*100+f.
func seqFeatures(rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for t := 0; t < rows; t++ {
		for f := 0; f < cols; f++ {
			m.Set(t, f, float64(t*100+f))
		}
	}
	return m
}

func writeNpy(t testing.TB, dir, name string, m *mat.Dense) string {
	t.Helper()
	var buf bytes.Buffer
	if err := npy.Write(&buf, m); err != nil {
		t.Fatalf("encode npy %s: %v", name, err)
	}
	path := filepath.Join(dir, name)
	if err := fileutil.FileSave(path, buf.Bytes()); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return path
}

// writeEmptyNpy writes a [0, cols] float64 array. mat.NewDense cannot hold
// zero rows, so the header is written by hand.
func writeEmptyNpy(t testing.TB, dir, name string, cols int) string {
	t.Helper()
	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (0, %d), }", cols)
	for (10+len(header)+1)%64 != 0 {
		header += " "
	}
	header += "\n"
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY\x01\x00")
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	path := filepath.Join(dir, name)
	if err := fileutil.FileSave(path, buf.Bytes()); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return path
}

func writeHTK(t testing.TB, dir, name string, m *mat.Dense, parmKind int16) string {
	t.Helper()
	rows, cols := m.Dims()
	var buf bytes.Buffer
	header := struct {
		NSamples   int32
		SampPeriod int32
		SampSize   int16
		ParmKind   int16
	}{int32(rows), 100000, int16(cols * 4), parmKind}
	if err := binary.Write(&buf, binary.BigEndian, header); err != nil {
		t.Fatal(err)
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			binary.Write(&buf, binary.BigEndian, math.Float32bits(float32(m.At(r, c))))
		}
	}
	path := filepath.Join(dir, name)
	if err := fileutil.FileSave(path, buf.Bytes()); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return path
}

type fixtureUtt struct {
	frames     int
	name       string
	transcript string
	sub        string
}

// writeCorpus writes one npy file per utterance (feature width dim) plus the
// two manifests and returns the manifest paths.
func writeCorpus(t testing.TB, dir string, dim int, utts []fixtureUtt) (string, string) {
	t.Helper()
	var main, sub strings.Builder
	main.WriteString(",frame_num,input_path,transcript\n")
	sub.WriteString(",frame_num,input_path,transcript\n")
	for i, u := range utts {
		var path string
		if u.frames == 0 {
			path = writeEmptyNpy(t, dir, u.name+".npy", dim)
		} else {
			path = writeNpy(t, dir, u.name+".npy", seqFeatures(u.frames, dim))
		}
		fmt.Fprintf(&main, "%d,%d,%s,%s\n", i, u.frames, path, u.transcript)
		fmt.Fprintf(&sub, "%d,%d,%s,%s\n", i, u.frames, path, u.sub)
	}
	return writeFile(t, dir, "main.csv", main.String()), writeFile(t, dir, "sub.csv", sub.String())
}

// writeVocabs writes a word and a character vocabulary. Word: pad=0 sos=1
// eos=2. Character: pad=3 sos=4 eos=5.
func writeVocabs(t testing.TB, dir string) (string, string) {
	t.Helper()
	word := "<pad>\n<sos>\n<eos>\n<unk>\nyes\nno\nuh\nhuh\nokay\nright\n"
	char := "a 0\nb 1\nc 2\n<pad> 3\n<sos> 4\n<eos> 5\n"
	return writeFile(t, dir, "word.txt", word), writeFile(t, dir, "char.txt", char)
}

func quietLogf(string, ...any) {}
