// Package gpt implements the openai-gpt tokenizer family. Text is always
// lowercased before BPE, and words end with a "</w>" suffix.
package gpt

import (
	"fmt"
	"strings"

	conciter "github.com/sourcegraph/conc/iter"

	"bpetok/internal/pkg/bpetok/bpe"
	"bpetok/internal/pkg/bpetok/errs"
	"bpetok/internal/pkg/bpetok/merges"
	"bpetok/internal/pkg/bpetok/pretokenize"
	"bpetok/internal/pkg/bpetok/store"
	"bpetok/internal/pkg/bpetok/tokenizer"
	"bpetok/internal/pkg/bpetok/vocab"
)

func init() {
	tokenizer.Register(Family, func(cfg tokenizer.Config) (tokenizer.Tokenizer, error) {
		return New(cfg)
	})
}

var _ tokenizer.BatchTokenizer = (*Tokenizer)(nil)

type Tokenizer struct {
	store     *store.Store
	bundle    *store.Bundle
	vocab     *vocab.Table
	merges    *merges.Table
	encoder   *bpe.Encoder
	pre       *pretokenize.PreTokenizer
	specials  *specialMatcher
	skipIDs   map[int]struct{}
	unkToken  string
	suffix    string
	maxLength int
}

// New loads the tables named by cfg. A tokenizer file takes precedence
// over the vocab/merges pair.
func New(cfg tokenizer.Config) (*Tokenizer, error) {
	st := store.New(cfg.Fs)
	b, err := st.Load(store.Files{
		Vocab:     cfg.VocabFile,
		Merges:    cfg.MergesFile,
		Tokenizer: cfg.TokenizerFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s tokenizer: %w", Family, err)
	}

	unk := cfg.UnkToken
	if unk == "" {
		unk = b.UnkToken
	}
	if unk == "" {
		unk = DefaultUnkToken
	}
	suffix := b.EndOfWordSuffix
	if suffix == "" {
		suffix = bpe.DefaultSuffix
	}

	// Special tokens missing from the vocabulary get the next free ids.
	literals := []string{unk}
	skip := []string{unk}
	for _, at := range b.AddedTokens {
		literals = append(literals, at.Content)
		if at.Special {
			skip = append(skip, at.Content)
		}
	}
	for _, lit := range cfg.SpecialTokens {
		if lit == "" {
			continue
		}
		literals = append(literals, lit)
		skip = append(skip, lit)
	}
	v := b.Vocab.With(literals...)

	enc, err := bpe.New(v, b.Merges, bpe.Options{
		UnkToken:        unk,
		EndOfWordSuffix: suffix,
		CacheSize:       cfg.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build %s encoder: %w", Family, err)
	}

	specialIDs := make(map[string]int, len(literals))
	for _, lit := range literals {
		id, _ := v.ID(lit)
		specialIDs[lit] = id
	}
	skipIDs := make(map[int]struct{}, len(skip))
	for _, lit := range skip {
		skipIDs[specialIDs[lit]] = struct{}{}
	}

	b.ForceLowercase()
	b.Vocab = v
	b.UnkToken = unk
	b.EndOfWordSuffix = suffix
	for _, lit := range cfg.SpecialTokens {
		if lit != "" && !hasAdded(b.AddedTokens, lit) {
			b.AddedTokens = append(b.AddedTokens, store.AddedToken{ID: specialIDs[lit], Content: lit, Special: true})
		}
	}
	if !hasAdded(b.AddedTokens, unk) {
		b.AddedTokens = append(b.AddedTokens, store.AddedToken{ID: specialIDs[unk], Content: unk, Special: true})
	}

	return &Tokenizer{
		store:     st,
		bundle:    b,
		vocab:     v,
		merges:    b.Merges,
		encoder:   enc,
		pre:       pretokenize.New(b.Normalizer),
		specials:  newSpecialMatcher(specialIDs),
		skipIDs:   skipIDs,
		unkToken:  unk,
		suffix:    suffix,
		maxLength: cfg.MaxLength,
	}, nil
}

func hasAdded(added []store.AddedToken, content string) bool {
	for _, at := range added {
		if at.Content == content {
			return true
		}
	}
	return false
}

// Encode never fails: symbols outside the vocabulary map to the unknown
// token id.
func (t *Tokenizer) Encode(text string) []int {
	ids := make([]int, 0, len(text)/4+1)
	for seg := range t.specials.segments(text) {
		if seg.special {
			ids = append(ids, seg.id)
			continue
		}
		for w := range t.pre.Split(seg.text) {
			ids = t.encoder.AppendIDs(ids, w.Text)
		}
	}
	if t.maxLength > 0 && len(ids) > t.maxLength {
		ids = ids[:t.maxLength]
	}
	return ids
}

// EncodeBatch encodes texts in parallel; out[i] equals Encode(texts[i]).
func (t *Tokenizer) EncodeBatch(texts []string) [][]int {
	return conciter.Map(texts, func(text *string) []int {
		return t.Encode(*text)
	})
}

// Tokens returns the subword strings Encode would map to ids.
func (t *Tokenizer) Tokens(text string) []string {
	ids := t.Encode(text)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i], _ = t.vocab.Token(id)
	}
	return out
}

// Decode joins the tokens of ids, turning each end-of-word suffix into a
// space. The last token's suffix is dropped.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	return t.decode(ids, false)
}

// DecodeSkipSpecial is Decode without the unknown and special tokens.
func (t *Tokenizer) DecodeSkipSpecial(ids []int) (string, error) {
	return t.decode(ids, true)
}

func (t *Tokenizer) decode(ids []int, skipSpecial bool) (string, error) {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tok, ok := t.vocab.Token(id)
		if !ok {
			return "", fmt.Errorf("%w: %d (vocabulary size %d)", errs.ErrUnknownID, id, t.vocab.Size())
		}
		if skipSpecial {
			if _, skip := t.skipIDs[id]; skip {
				continue
			}
		}
		tokens = append(tokens, tok)
	}

	var sb strings.Builder
	for i, tok := range tokens {
		repl := " "
		if i == len(tokens)-1 {
			repl = ""
		}
		sb.WriteString(strings.ReplaceAll(tok, t.suffix, repl))
	}
	return sb.String(), nil
}

// SaveVocabulary writes vocab.json and merges.txt into dir, prefixed with
// "prefix-" when prefix is set, and returns both paths.
func (t *Tokenizer) SaveVocabulary(dir, prefix string) ([]string, error) {
	vocabPath, mergesPath, err := t.store.SaveVocabulary(dir, prefix, t.vocab, t.merges)
	if err != nil {
		return nil, err
	}
	return []string{vocabPath, mergesPath}, nil
}

// SaveTokenizerFile writes the combined tokenizer.json into dir.
func (t *Tokenizer) SaveTokenizerFile(dir, prefix string) (string, error) {
	return t.store.SaveTokenizerFile(dir, prefix, t.bundle)
}

func (t *Tokenizer) VocabSize() int {
	return t.vocab.Size()
}

// DoLowerCase is always true for this family.
func (t *Tokenizer) DoLowerCase() bool {
	return true
}

func (t *Tokenizer) UnkToken() string {
	return t.unkToken
}

func (t *Tokenizer) Info() tokenizer.Info {
	return tokenizer.Info{
		Family:    Family,
		VocabSize: t.vocab.Size(),
		UnkToken:  t.unkToken,
		MaxLength: t.maxLength,
	}
}
