// Package store loads and saves the vocabulary and merge tables as one unit,
// either as the vocab.json + merges.txt pair or as a combined
// tokenizer.json.
package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"bpetok/internal/pkg/bpetok/atomicfs"
	"bpetok/internal/pkg/bpetok/merges"
	"bpetok/internal/pkg/bpetok/normalize"
	"bpetok/internal/pkg/bpetok/vocab"
)

// ErrMissingFiles is returned when neither a tokenizer file nor both of the
// separate files are given.
var ErrMissingFiles = errors.New("store: vocab and merges files are both required without a tokenizer file")

// Files names the artifacts to load. Tokenizer, when set, wins over the pair.
type Files struct {
	Vocab     string
	Merges    string
	Tokenizer string
}

// AddedToken is a token matched verbatim before normalization.
type AddedToken struct {
	ID      int
	Content string
	Special bool
}

// Bundle is everything the encoder needs from disk.
type Bundle struct {
	Vocab           *vocab.Table
	Merges          *merges.Table
	UnkToken        string
	EndOfWordSuffix string
	Normalizer      normalize.Options
	AddedTokens     []AddedToken

	stripAccentsSet bool
}

// ForceLowercase turns lowercasing on for families that always lowercase.
// Accent stripping follows it unless the tokenizer file set strip_accents.
func (b *Bundle) ForceLowercase() {
	b.Normalizer.Lowercase = true
	if !b.stripAccentsSet {
		b.Normalizer.StripAccents = true
	}
}

type Store struct {
	fs afero.Fs
}

// New returns a store over fs; nil means the OS filesystem.
func New(fs afero.Fs) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs}
}

func (s *Store) Fs() afero.Fs {
	return s.fs
}

func (s *Store) Load(files Files) (*Bundle, error) {
	if files.Tokenizer != "" {
		return s.LoadTokenizerFile(files.Tokenizer)
	}
	if files.Vocab == "" || files.Merges == "" {
		return nil, ErrMissingFiles
	}

	v, err := vocab.Load(s.fs, files.Vocab)
	if err != nil {
		return nil, err
	}
	m, err := merges.Load(s.fs, files.Merges)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Vocab:      v,
		Merges:     m,
		Normalizer: normalize.Default(),
	}, nil
}

// SaveVocabulary writes [prefix-]vocab.json and [prefix-]merges.txt into dir.
// Both files are replaced or neither is.
func (s *Store) SaveVocabulary(dir, prefix string, v *vocab.Table, m *merges.Table) (string, string, error) {
	vocabPath := filepath.Join(dir, vocab.FileNameWithPrefix(prefix))
	mergesPath := filepath.Join(dir, merges.FileNameWithPrefix(prefix))

	err := atomicfs.WriteFiles(s.fs,
		atomicfs.File{Path: vocabPath, Write: v.Write},
		atomicfs.File{Path: mergesPath, Write: m.Write},
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to save vocabulary: %w", err)
	}

	log.Debug().
		Str("vocab", vocabPath).
		Str("merges", mergesPath).
		Int("size", v.Size()).
		Int("rules", m.Len()).
		Msg("Vocabulary saved")
	return vocabPath, mergesPath, nil
}
