package gpt

import (
	"bpetok/internal/pkg/bpetok/merges"
	"bpetok/internal/pkg/bpetok/store"
	"bpetok/internal/pkg/bpetok/vocab"
)

const (
	// Family is the registry name of this tokenizer.
	Family = "openai-gpt"

	DefaultUnkToken = "<unk>"

	// MaxModelInputSize is the positional embedding size of openai-gpt.
	MaxModelInputSize = 512

	pretrainedBaseURL = "https://hf-mirror.com/openai-gpt/resolve/main/"
)

// VocabFileNames returns the file names this family reads and writes.
func VocabFileNames() store.Files {
	return store.Files{
		Vocab:     vocab.FileName,
		Merges:    merges.FileName,
		Tokenizer: store.TokenizerFileName,
	}
}

// PretrainedURLs returns where the published artifacts of a pretrained
// model live. Fetching them is left to the caller.
func PretrainedURLs(model string) (store.Files, bool) {
	if model != Family {
		return store.Files{}, false
	}
	names := VocabFileNames()
	return store.Files{
		Vocab:     pretrainedBaseURL + names.Vocab,
		Merges:    pretrainedBaseURL + names.Merges,
		Tokenizer: pretrainedBaseURL + names.Tokenizer,
	}, true
}
