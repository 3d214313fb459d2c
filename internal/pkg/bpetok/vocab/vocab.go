// Package vocab implements the bidirectional token <-> id table loaded from
// a vocab.json file. A Table is immutable once built and safe for concurrent
// reads.
package vocab

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"bpetok/internal/pkg/bpetok/atomicfs"
	"bpetok/internal/pkg/bpetok/errs"
)

// FileName is the conventional vocabulary file name.
const FileName = "vocab.json"

type Table struct {
	tokens []string // index is the id
	ids    map[string]int
}

// New builds a table from a token -> id mapping. Ids must be unique and form
// the dense range [0, len(m)).
func New(m map[string]int) (*Table, error) {
	t := &Table{
		tokens: make([]string, len(m)),
		ids:    make(map[string]int, len(m)),
	}
	seen := make([]bool, len(m))
	for token, id := range m {
		if id < 0 {
			return nil, fmt.Errorf("%w: token %q has negative id %d", errs.ErrFormat, token, id)
		}
		if id >= len(m) {
			return nil, fmt.Errorf("%w: id %d of token %q outside dense range [0, %d)", errs.ErrFormat, id, token, len(m))
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: id %d used by %q and %q", errs.ErrDuplicateID, id, t.tokens[id], token)
		}
		seen[id] = true
		t.tokens[id] = token
		t.ids[token] = id
	}
	return t, nil
}

// FromTokens builds a table where each token's id is its index.
func FromTokens(tokens []string) (*Table, error) {
	m := make(map[string]int, len(tokens))
	for id, token := range tokens {
		if _, dup := m[token]; dup {
			return nil, fmt.Errorf("%w: token %q listed twice", errs.ErrFormat, token)
		}
		m[token] = id
	}
	return New(m)
}

// Parse reads a JSON object mapping token strings to integer ids. Duplicate
// keys are rejected rather than silently overwritten.
func Parse(r io.Reader) (*Table, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrFormat, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", errs.ErrFormat)
	}

	m := make(map[string]int)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrFormat, err)
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: value of %q: %w", errs.ErrFormat, key, err)
		}
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value of %q is not an integer id", errs.ErrFormat, key)
		}
		if _, dup := m[key]; dup {
			return nil, fmt.Errorf("%w: token %q appears twice", errs.ErrFormat, key)
		}
		m[key] = int(id)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrFormat, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after vocabulary object", errs.ErrFormat)
	}

	return New(m)
}

// Load reads a vocab.json file.
func Load(fs afero.Fs, path string) (*Table, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open vocab file: %w", errs.ErrIO, err)
	}
	defer f.Close()

	t, err := Parse(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("size", t.Size()).Msg("Vocabulary loaded")
	return t, nil
}

// ID returns the id of token.
func (t *Table) ID(token string) (int, bool) {
	id, ok := t.ids[token]
	return id, ok
}

// Token returns the token with the given id.
func (t *Table) Token(id int) (string, bool) {
	if id < 0 || id >= len(t.tokens) {
		return "", false
	}
	return t.tokens[id], true
}

func (t *Table) Size() int {
	return len(t.tokens)
}

// Tokens returns a copy of the tokens ordered by id.
func (t *Table) Tokens() []string {
	out := make([]string, len(t.tokens))
	copy(out, t.tokens)
	return out
}

// Map returns a copy of the token -> id mapping.
func (t *Table) Map() map[string]int {
	out := make(map[string]int, len(t.ids))
	for k, v := range t.ids {
		out[k] = v
	}
	return out
}

// With returns a table extended by the tokens not already present, assigned
// the next free ids in argument order. t itself is left unchanged.
func (t *Table) With(tokens ...string) *Table {
	out := &Table{
		tokens: t.Tokens(),
		ids:    t.Map(),
	}
	for _, token := range tokens {
		if _, ok := out.ids[token]; ok {
			continue
		}
		out.ids[token] = len(out.tokens)
		out.tokens = append(out.tokens, token)
	}
	return out
}

// Write serializes the table as a JSON object with keys ordered by id.
func (t *Table) Write(w io.Writer) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("{"); err != nil {
		return err
	}
	for id, token := range t.tokens {
		buf.Reset()
		if err := enc.Encode(token); err != nil {
			return err
		}
		if id > 0 {
			if _, err := bw.WriteString(","); err != nil {
				return err
			}
		}
		// Encode appends a newline.
		if _, err := bw.Write(bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(bw, ":%d", id); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("}\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// Save writes the table to dir as [prefix-]vocab.json and returns the path.
func (t *Table) Save(fs afero.Fs, dir, prefix string) (string, error) {
	path := filepath.Join(dir, FileNameWithPrefix(prefix))
	if err := atomicfs.WriteFiles(fs, atomicfs.File{Path: path, Write: t.Write}); err != nil {
		return "", err
	}
	log.Debug().Str("path", path).Int("size", t.Size()).Msg("Vocabulary saved")
	return path, nil
}

// FileNameWithPrefix returns the vocabulary file name for an optional prefix.
func FileNameWithPrefix(prefix string) string {
	if prefix == "" {
		return FileName
	}
	return prefix + "-" + FileName
}
