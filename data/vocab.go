package data

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// Reserved vocabulary entries.
const (
	PadToken = "<pad>"
	SOSToken = "<sos>"
	EOSToken = "<eos>"
	UNKToken = "<unk>"
)

// Vocab is an index <-> token bijection for one label granularity.
type Vocab struct {
	tokens  []string
	index   map[string]int
	Pad     int
	SOS     int
	EOS     int
	UNK     int // -1 when the vocabulary has no <unk>
	sepChar string
}

// LoadVocab reads a vocabulary file. Each line is either "token" (the index is
// the line number) or "token id". The reserved <pad>, <sos> and <eos> entries
// must be present.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapConfig(err, "open vocabulary")
	}
	defer f.Close()

	entries := make(map[int]string)
	maxID := -1
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		var id int
		switch len(fields) {
		case 1:
			id = line
		case 2:
			id, err = strconv.Atoi(fields[1])
			if err != nil {
				return nil, wrapConfig(err, "%s: bad id on line %d", path, line+1)
			}
			if id < 0 {
				return nil, configErrorf("%s: negative id %d on line %d", path, id, line+1)
			}
		default:
			return nil, configErrorf("%s: line %d: expected \"token [id]\"", path, line+1)
		}
		if prev, dup := entries[id]; dup {
			return nil, configErrorf("%s: id %d used by both %q and %q", path, id, prev, fields[0])
		}
		entries[id] = fields[0]
		maxID = max(maxID, id)
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapIO(err, "read vocabulary %s", path)
	}

	// Ids may leave gaps, but not so many that the table dwarfs the file.
	if maxID >= 2*len(entries) {
		return nil, configErrorf("%s: id %d is out of range for %d entries", path, maxID, len(entries))
	}
	tokens := make([]string, maxID+1)
	for id, tok := range entries {
		tokens[id] = tok
	}
	v, err := NewVocab(tokens)
	if err != nil {
		return nil, wrapConfig(err, "%s", path)
	}
	return v, nil
}

// NewVocab builds a vocabulary from tokens indexed by position.
func NewVocab(tokens []string) (*Vocab, error) {
	v := &Vocab{
		tokens:  tokens,
		index:   make(map[string]int, len(tokens)),
		UNK:     -1,
		sepChar: " ",
	}
	for id, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, dup := v.index[tok]; dup {
			return nil, configErrorf("token %q appears twice", tok)
		}
		v.index[tok] = id
	}

	var ok bool
	if v.Pad, ok = v.index[PadToken]; !ok {
		return nil, configErrorf("vocabulary has no %s entry", PadToken)
	}
	if v.SOS, ok = v.index[SOSToken]; !ok {
		return nil, configErrorf("vocabulary has no %s entry", SOSToken)
	}
	if v.EOS, ok = v.index[EOSToken]; !ok {
		return nil, configErrorf("vocabulary has no %s entry", EOSToken)
	}
	if unk, ok := v.index[UNKToken]; ok {
		v.UNK = unk
	}
	return v, nil
}

// Size is the number of index slots.
func (v *Vocab) Size() int { return len(v.tokens) }

// SetSeparator sets the string Decode puts between tokens. Character
// vocabularies usually want "".
func (v *Vocab) SetSeparator(sep string) { v.sepChar = sep }

// Index returns the id of token, falling back to <unk>.
func (v *Vocab) Index(token string) (int, bool) {
	if id, ok := v.index[token]; ok {
		return id, true
	}
	return v.UNK, false
}

// Token returns the token for id, or "" when id is out of range.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// Decode turns an id sequence back into text. Pad and SOS are skipped and
// decoding stops at the first EOS.
func (v *Vocab) Decode(ids []int) string {
	var sb strings.Builder
	first := true
	for _, id := range ids {
		if id == v.EOS {
			break
		}
		if id == v.Pad || id == v.SOS {
			continue
		}
		if !first {
			sb.WriteString(v.sepChar)
		}
		sb.WriteString(v.Token(id))
		first = false
	}
	return sb.String()
}
