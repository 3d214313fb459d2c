// Package merges compiles an ordered list of BPE merge rules into a rank
// lookup. Lower rank means higher priority.
package merges

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"bpetok/internal/pkg/bpetok/atomicfs"
	"bpetok/internal/pkg/bpetok/errs"
)

const (
	// FileName is the conventional merges file name.
	FileName = "merges.txt"

	// Header is written as the first line of saved merges files.
	Header = "#version: 0.2"

	headerPrefix = "#version"
)

// Pair is an ordered pair of adjacent symbols.
type Pair struct {
	Left  string
	Right string
}

func (p Pair) String() string {
	return p.Left + " " + p.Right
}

// Merged returns the symbol produced by applying the rule.
func (p Pair) Merged() string {
	return p.Left + p.Right
}

// Table maps pairs to ranks. It is immutable after construction.
type Table struct {
	ranks map[Pair]int
}

// New compiles rules in priority order; rank is the index in rules.
func New(rules []Pair) (*Table, error) {
	t := &Table{ranks: make(map[Pair]int, len(rules))}
	for rank, p := range rules {
		if p.Left == "" || p.Right == "" {
			return nil, fmt.Errorf("%w: rule %d has an empty symbol", errs.ErrFormat, rank)
		}
		if strings.Contains(p.Left, " ") || strings.Contains(p.Right, " ") {
			return nil, fmt.Errorf("%w: rule %d: symbol contains a space: %q %q", errs.ErrFormat, rank, p.Left, p.Right)
		}
		if prev, dup := t.ranks[p]; dup {
			return nil, fmt.Errorf("%w: %q at ranks %d and %d", errs.ErrDuplicateRule, p.String(), prev, rank)
		}
		t.ranks[p] = rank
	}
	return t, nil
}

// FromRanks wraps an externally built rank map. Unlike New it accepts equal
// ranks for different pairs.
func FromRanks(ranks map[Pair]int) *Table {
	t := &Table{ranks: make(map[Pair]int, len(ranks))}
	for p, r := range ranks {
		t.ranks[p] = r
	}
	return t
}

// ParseRule splits one "left right" line.
func ParseRule(line string) (Pair, bool) {
	parts := strings.Split(line, " ")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, false
	}
	return Pair{Left: parts[0], Right: parts[1]}, true
}

// Parse reads a newline delimited merges list. A first line starting with
// "#version" is skipped and blank lines do not take a rank.
func Parse(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var rules []Pair
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 1 && strings.HasPrefix(line, headerPrefix) {
			continue
		}
		if line == "" {
			continue
		}
		p, ok := ParseRule(line)
		if !ok {
			return nil, fmt.Errorf("%w: line %d: expected two space separated symbols, got %q", errs.ErrFormat, lineNo, line)
		}
		rules = append(rules, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read merges: %w", errs.ErrIO, err)
	}

	return New(rules)
}

// Load reads a merges.txt file.
func Load(fs afero.Fs, path string) (*Table, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open merges file: %w", errs.ErrIO, err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("rules", t.Len()).Msg("Merges loaded")
	return t, nil
}

// RankOf returns the rank of the (left, right) rule.
func (t *Table) RankOf(left, right string) (int, bool) {
	r, ok := t.ranks[Pair{Left: left, Right: right}]
	return r, ok
}

func (t *Table) Len() int {
	return len(t.ranks)
}

// Rules returns the pairs ordered by rank. Equal ranks are ordered by
// their symbols so the result is stable.
func (t *Table) Rules() []Pair {
	rules := make([]Pair, 0, len(t.ranks))
	for p := range t.ranks {
		rules = append(rules, p)
	}
	sort.Slice(rules, func(i, j int) bool {
		ri, rj := t.ranks[rules[i]], t.ranks[rules[j]]
		if ri != rj {
			return ri < rj
		}
		if rules[i].Left != rules[j].Left {
			return rules[i].Left < rules[j].Left
		}
		return rules[i].Right < rules[j].Right
	})
	return rules
}

// Write serializes the rules, header first, one rule per line.
func (t *Table) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\n"); err != nil {
		return err
	}
	for _, p := range t.Rules() {
		if _, err := bw.WriteString(p.String() + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save writes the table to dir as [prefix-]merges.txt and returns the path.
func (t *Table) Save(fs afero.Fs, dir, prefix string) (string, error) {
	path := filepath.Join(dir, FileNameWithPrefix(prefix))
	if err := atomicfs.WriteFiles(fs, atomicfs.File{Path: path, Write: t.Write}); err != nil {
		return "", err
	}
	log.Debug().Str("path", path).Int("rules", t.Len()).Msg("Merges saved")
	return path, nil
}

// FileNameWithPrefix returns the merges file name for an optional prefix.
func FileNameWithPrefix(prefix string) string {
	if prefix == "" {
		return FileName
	}
	return prefix + "-" + FileName
}
