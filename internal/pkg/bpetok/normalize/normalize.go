package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Options selects the BERT-style normalization steps.
type Options struct {
	CleanText          bool `json:"clean_text"`
	HandleChineseChars bool `json:"handle_chinese_chars"`
	Lowercase          bool `json:"lowercase"`
	StripAccents       bool `json:"strip_accents"`
}

// Default enables every step.
func Default() Options {
	return Options{
		CleanText:          true,
		HandleChineseChars: true,
		Lowercase:          true,
		StripAccents:       true,
	}
}

type Normalizer struct {
	opts Options
}

func NewNormalizer(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

func (n *Normalizer) Options() Options {
	return n.opts
}

// Process applies the enabled steps in order: clean, isolate CJK, lowercase,
// strip accents. Casers and transformers are stateful, so each call builds
// its own.
func (n *Normalizer) Process(text string) string {
	if text == "" {
		return text
	}
	if n.opts.CleanText {
		text = cleanText(text)
	}
	if n.opts.HandleChineseChars {
		text = padChineseChars(text)
	}
	if n.opts.Lowercase {
		text = cases.Lower(language.Und).String(text)
	}
	if n.opts.StripAccents {
		text = stripAccents(text)
	}
	return text
}

func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || isControl(r):
			continue
		case isWhitespace(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func padChineseChars(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isChineseChar(r) {
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func stripAccents(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return norm.NFC.String(text)
	}
	return out
}

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf)
}

// CJK Unified Ideographs blocks; Hangul and kana are not included.
var chineseRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x3400, Hi: 0x4DBF, Stride: 1},
		{Lo: 0x4E00, Hi: 0x9FFF, Stride: 1},
		{Lo: 0xF900, Hi: 0xFAFF, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x20000, Hi: 0x2A6DF, Stride: 1},
		{Lo: 0x2A700, Hi: 0x2B73F, Stride: 1},
		{Lo: 0x2B740, Hi: 0x2B81F, Stride: 1},
		{Lo: 0x2B820, Hi: 0x2CEAF, Stride: 1},
		{Lo: 0x2F800, Hi: 0x2FA1F, Stride: 1},
	},
}

func isChineseChar(r rune) bool {
	return unicode.Is(chineseRanges, r)
}
