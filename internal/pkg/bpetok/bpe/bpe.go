// Package bpe applies ranked merge rules to single words and maps the
// resulting symbols to vocabulary ids.
package bpe

import (
	"fmt"

	"github.com/maypok86/otter"

	"bpetok/internal/pkg/bpetok/merges"
	"bpetok/internal/pkg/bpetok/vocab"
)

// DefaultSuffix marks the last symbol of a word.
const DefaultSuffix = "</w>"

// Options configures an Encoder.
type Options struct {
	// UnkToken substitutes for symbols missing from the vocabulary.
	UnkToken string
	// EndOfWordSuffix is appended to the last character of each word.
	// Empty means DefaultSuffix.
	EndOfWordSuffix string
	// CacheSize bounds the word cache; 0 disables it.
	CacheSize int
}

// Encoder is safe for concurrent use. Each call works on its own symbol
// slice; the optional cache is the only shared state and never changes
// results.
type Encoder struct {
	vocab  *vocab.Table
	ranks  *merges.Table
	suffix string
	unkID  int
	cache  *otter.Cache[string, []string]
}

func New(v *vocab.Table, ranks *merges.Table, opts Options) (*Encoder, error) {
	unkID, ok := v.ID(opts.UnkToken)
	if !ok {
		return nil, fmt.Errorf("unknown token %q is not in the vocabulary", opts.UnkToken)
	}

	e := &Encoder{
		vocab:  v,
		ranks:  ranks,
		suffix: opts.EndOfWordSuffix,
		unkID:  unkID,
	}
	if e.suffix == "" {
		e.suffix = DefaultSuffix
	}

	if opts.CacheSize > 0 {
		cache, err := otter.MustBuilder[string, []string](opts.CacheSize).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build word cache: %w", err)
		}
		e.cache = &cache
	}
	return e, nil
}

func (e *Encoder) Suffix() string {
	return e.suffix
}

func (e *Encoder) UnkID() int {
	return e.unkID
}

// Symbols returns the merged symbols of word.
func (e *Encoder) Symbols(word string) []string {
	syms := e.symbols(word)
	out := make([]string, len(syms))
	copy(out, syms)
	return out
}

// AppendIDs appends the ids of word's merged symbols to dst.
func (e *Encoder) AppendIDs(dst []int, word string) []int {
	for _, s := range e.symbols(word) {
		if id, ok := e.vocab.ID(s); ok {
			dst = append(dst, id)
		} else {
			dst = append(dst, e.unkID)
		}
	}
	return dst
}

// symbols may return a slice shared with the cache; callers must not modify it.
func (e *Encoder) symbols(word string) []string {
	if word == "" {
		return nil
	}
	if e.cache != nil {
		if syms, ok := e.cache.Get(word); ok {
			return syms
		}
	}
	syms := e.merge(word)
	if e.cache != nil {
		e.cache.Set(word, syms)
	}
	return syms
}

// merge starts from one symbol per rune, the last carrying the suffix, and
// repeatedly merges the adjacent pair with the lowest rank. Equal ranks go
// to the leftmost pair. Each step removes one symbol, so the loop runs at
// most len(runes)-1 times.
func (e *Encoder) merge(word string) []string {
	runes := []rune(word)
	syms := make([]string, len(runes))
	for i, r := range runes {
		syms[i] = string(r)
	}
	syms[len(syms)-1] += e.suffix

	for len(syms) > 1 {
		best, bestRank := -1, 0
		for i := 0; i+1 < len(syms); i++ {
			r, ok := e.ranks.RankOf(syms[i], syms[i+1])
			if !ok {
				continue
			}
			if best < 0 || r < bestRank {
				best, bestRank = i, r
			}
		}
		if best < 0 {
			break
		}
		syms[best] += syms[best+1]
		syms = append(syms[:best+1], syms[best+2:]...)
	}
	return syms
}
