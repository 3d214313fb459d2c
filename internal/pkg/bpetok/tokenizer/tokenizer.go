package tokenizer

import "github.com/spf13/afero"

// Tokenizer is implemented once per tokenizer family.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) (string, error)
	SaveVocabulary(dir, prefix string) ([]string, error)
	VocabSize() int
	DoLowerCase() bool
	Info() Info
}

// BatchTokenizer encodes several independent inputs at once.
type BatchTokenizer interface {
	Tokenizer
	EncodeBatch(texts []string) [][]int
}

type Info struct {
	Family    string
	VocabSize int
	UnkToken  string
	MaxLength int
}

// Config replaces open-ended keyword options with named fields.
type Config struct {
	VocabFile     string
	MergesFile    string
	TokenizerFile string

	// UnkToken defaults to the family's unknown token when empty.
	UnkToken      string
	SpecialTokens []string
	// MaxLength truncates Encode output; 0 disables truncation.
	MaxLength int
	// CacheSize enables a word cache of that many entries; 0 disables it.
	CacheSize int

	// Fs defaults to the OS filesystem.
	Fs afero.Fs
}
