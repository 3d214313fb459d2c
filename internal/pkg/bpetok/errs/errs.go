// Package errs holds the sentinel errors shared by the tokenizer packages.
// Callers match them with errors.Is; the wrapped message carries the file
// and line that failed.
package errs

import "errors"

var (
	// ErrFormat reports a vocabulary, merges or tokenizer file that does not
	// follow its format.
	ErrFormat = errors.New("malformed tokenizer file")

	// ErrDuplicateID reports two vocabulary tokens sharing one id.
	ErrDuplicateID = errors.New("duplicate token id")

	// ErrDuplicateRule reports a merge pair listed more than once.
	ErrDuplicateRule = errors.New("duplicate merge rule")

	// ErrIO reports an unreadable or unwritable path.
	ErrIO = errors.New("tokenizer file i/o")

	// ErrUnknownID reports a decode request for an id outside the vocabulary.
	ErrUnknownID = errors.New("unknown token id")

	// ErrUnknownFamily reports a tokenizer family nobody registered.
	ErrUnknownFamily = errors.New("unknown tokenizer family")
)
