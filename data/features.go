package data

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/sbinet/npyio/npy"
	"gonum.org/v1/gonum/mat"
)

// SaveFormat is the on-disk serialization of per-utterance feature arrays.
// It is fixed per dataset instance, never sniffed from the file.
type SaveFormat int

const (
	FormatNumpy SaveFormat = iota
	FormatHTK
)

func (f SaveFormat) String() string {
	switch f {
	case FormatNumpy:
		return "numpy"
	case FormatHTK:
		return "htk"
	default:
		return "unknown"
	}
}

// ParseSaveFormat resolves the configuration value ("numpy" or "htk").
func ParseSaveFormat(s string) (SaveFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numpy", "npy", "":
		return FormatNumpy, nil
	case "htk":
		return FormatHTK, nil
	default:
		return 0, configErrorf("unknown save format %q", s)
	}
}

// FeatureLoader reads one utterance's [T, F] feature array. T may be zero;
// the array then still reports its width F.
type FeatureLoader func(path string) (*mat.Dense, error)

// NewFeatureLoader returns the reader for format.
func NewFeatureLoader(format SaveFormat) (FeatureLoader, error) {
	switch format {
	case FormatNumpy:
		return LoadNpy, nil
	case FormatHTK:
		return LoadHTK, nil
	default:
		return nil, configErrorf("unknown save format %d", format)
	}
}

// -------- NUMPY -------- //

// LoadNpy reads a float32 or float64 .npy array. A 1-D array is treated as
// a single feature column.
func LoadNpy(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapIO(err, "open feature file")
	}
	defer f.Close()

	r, err := npy.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, wrapIO(err, "read npy header %s", path)
	}

	shape := r.Header.Descr.Shape
	var rows, cols int
	switch len(shape) {
	case 1:
		rows, cols = shape[0], 1
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return nil, ioErrorf("%s: expected a 2-D array, got shape %v", path, shape)
	}
	if cols == 0 {
		return nil, ioErrorf("%s: feature array has no columns", path)
	}
	if rows == 0 {
		return emptyFeatures(cols), nil
	}

	data := make([]float64, rows*cols)
	switch r.Header.Descr.Type {
	case "<f4", "f4":
		var raw []float32
		if err := r.Read(&raw); err != nil {
			return nil, wrapIO(err, "read npy body %s", path)
		}
		if len(raw) != len(data) {
			return nil, ioErrorf("%s: npy body has %d values, header says %d", path, len(raw), len(data))
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case "<f8", "f8":
		var raw []float64
		if err := r.Read(&raw); err != nil {
			return nil, wrapIO(err, "read npy body %s", path)
		}
		if len(raw) != len(data) {
			return nil, ioErrorf("%s: npy body has %d values, header says %d", path, len(raw), len(data))
		}
		copy(data, raw)
	default:
		return nil, ioErrorf("%s: unsupported npy dtype %q", path, r.Header.Descr.Type)
	}

	if r.Header.Descr.Fortran && len(shape) == 2 {
		// Column-major on disk: read as [F, T] and transpose.
		var out mat.Dense
		out.CloneFrom(mat.NewDense(cols, rows, data).T())
		return &out, nil
	}
	return mat.NewDense(rows, cols, data), nil
}

// -------- HTK -------- //

// parmKind flag for compressed HTK files.
const htkCompressed = 0o2000

// LoadHTK reads an uncompressed HTK parameter file: a 12-byte big-endian
// header followed by nSamples frames of sampSize/4 big-endian float32s.
func LoadHTK(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapIO(err, "open feature file")
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var header struct {
		NSamples   int32
		SampPeriod int32
		SampSize   int16
		ParmKind   int16
	}
	if err := binary.Read(br, binary.BigEndian, &header); err != nil {
		return nil, wrapIO(err, "read htk header %s", path)
	}
	if header.ParmKind&htkCompressed != 0 {
		return nil, ioErrorf("%s: compressed htk files are not supported", path)
	}
	if header.NSamples < 0 || header.SampSize <= 0 || header.SampSize%4 != 0 {
		return nil, ioErrorf("%s: bad htk header (nSamples=%d sampSize=%d)", path, header.NSamples, header.SampSize)
	}

	rows := int(header.NSamples)
	cols := int(header.SampSize) / 4
	if rows == 0 {
		return emptyFeatures(cols), nil
	}
	buf := make([]byte, rows*cols*4)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, wrapIO(err, "read htk body %s", path)
	}

	data := make([]float64, rows*cols)
	for i := range data {
		bits := binary.BigEndian.Uint32(buf[i*4:])
		data[i] = float64(math.Float32frombits(bits))
	}
	return mat.NewDense(rows, cols, data), nil
}
