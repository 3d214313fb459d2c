// Package pretokenize splits normalized text into word units before BPE.
//
// Units are matched left to right, first alternative wins:
//
//	's 't 're 've 'm 'll 'd   contraction suffix not followed by a letter
//	[\p{L}\p{M}]+             letters
//	\p{N}+                    digits
//	[^\s\p{L}\p{M}\p{N}]      any other single rune (punctuation, symbols)
//
// Whitespace only separates units. The suffix rule needs a negative
// look-ahead, which RE2 does not support.
package pretokenize

import (
	"iter"

	"github.com/dlclark/regexp2"

	"bpetok/internal/pkg/bpetok/normalize"
)

const wordPattern = `'(?:s|t|re|ve|m|ll|d)(?!\p{L})|[\p{L}\p{M}]+|\p{N}+|[^\s\p{L}\p{M}\p{N}]`

var wordRe = regexp2.MustCompile(wordPattern, regexp2.None)

// Word is one pre-tokenized unit. Start is the rune offset in the
// normalized text.
type Word struct {
	Text  string
	Start int
}

type PreTokenizer struct {
	normalizer *normalize.Normalizer
}

// New returns a pre-tokenizer that always lowercases, whatever opts says.
func New(opts normalize.Options) *PreTokenizer {
	opts.Lowercase = true
	return &PreTokenizer{normalizer: normalize.NewNormalizer(opts)}
}

func (p *PreTokenizer) Options() normalize.Options {
	return p.normalizer.Options()
}

// Split normalizes text and yields its words lazily. The sequence can be
// ranged over once; later ranges yield nothing.
func (p *PreTokenizer) Split(text string) iter.Seq[Word] {
	normalized := p.normalizer.Process(text)
	consumed := false
	return func(yield func(Word) bool) {
		if consumed {
			return
		}
		consumed = true
		for w := range Words(normalized) {
			if !yield(w) {
				return
			}
		}
	}
}

// Words splits already normalized text.
func Words(text string) iter.Seq[Word] {
	return func(yield func(Word) bool) {
		if text == "" {
			return
		}
		m, err := wordRe.FindStringMatch(text)
		for err == nil && m != nil {
			if !yield(Word{Text: m.String(), Start: m.Index}) {
				return
			}
			m, err = wordRe.FindNextMatch(m)
		}
	}
}
