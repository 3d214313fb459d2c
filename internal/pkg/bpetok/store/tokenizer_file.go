package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"bpetok/internal/pkg/bpetok/atomicfs"
	"bpetok/internal/pkg/bpetok/errs"
	"bpetok/internal/pkg/bpetok/merges"
	"bpetok/internal/pkg/bpetok/normalize"
	"bpetok/internal/pkg/bpetok/vocab"
)

// TokenizerFileName is the conventional combined file name.
const TokenizerFileName = "tokenizer.json"

type tokenizerJSON struct {
	Version      string            `json:"version"`
	Truncation   json.RawMessage   `json:"truncation"`
	Padding      json.RawMessage   `json:"padding"`
	AddedTokens  []addedTokenJSON  `json:"added_tokens"`
	Normalizer   *normalizerJSON   `json:"normalizer"`
	PreTokenizer *preTokenizerJSON `json:"pre_tokenizer"`
	Decoder      *decoderJSON      `json:"decoder"`
	Model        modelJSON         `json:"model"`
}

type addedTokenJSON struct {
	ID         int    `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	Lstrip     bool   `json:"lstrip"`
	Rstrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

type normalizerJSON struct {
	Type               string `json:"type"`
	CleanText          *bool  `json:"clean_text,omitempty"`
	HandleChineseChars *bool  `json:"handle_chinese_chars,omitempty"`
	// null follows Lowercase.
	StripAccents *bool `json:"strip_accents"`
	Lowercase    *bool `json:"lowercase,omitempty"`
}

type preTokenizerJSON struct {
	Type string `json:"type"`
}

type decoderJSON struct {
	Type   string `json:"type"`
	Suffix string `json:"suffix,omitempty"`
}

type modelJSON struct {
	Type            string          `json:"type"`
	Dropout         *float64        `json:"dropout"`
	UnkToken        *string         `json:"unk_token"`
	EndOfWordSuffix *string         `json:"end_of_word_suffix"`
	FuseUnk         bool            `json:"fuse_unk"`
	ByteFallback    bool            `json:"byte_fallback"`
	Vocab           json.RawMessage `json:"vocab"`
	Merges          mergeList       `json:"merges"`
}

// mergeList accepts both "left right" strings and ["left", "right"] pairs.
type mergeList []merges.Pair

func (l *mergeList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(mergeList, 0, len(raw))
	for i, item := range raw {
		var line string
		if err := json.Unmarshal(item, &line); err == nil {
			p, ok := merges.ParseRule(line)
			if !ok {
				return fmt.Errorf("merge %d: expected two space separated symbols, got %q", i, line)
			}
			out = append(out, p)
			continue
		}
		var pair []string
		if err := json.Unmarshal(item, &pair); err != nil || len(pair) != 2 {
			return fmt.Errorf("merge %d: expected a string or a two element array", i)
		}
		out = append(out, merges.Pair{Left: pair[0], Right: pair[1]})
	}
	*l = out
	return nil
}

func (l mergeList) MarshalJSON() ([]byte, error) {
	lines := make([]string, len(l))
	for i, p := range l {
		lines[i] = p.String()
	}
	return json.Marshal(lines)
}

// LoadTokenizerFile reads a combined tokenizer.json with a BPE model.
func (s *Store) LoadTokenizerFile(path string) (*Bundle, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open tokenizer file: %w", errs.ErrIO, err)
	}
	defer f.Close()

	b, err := ParseTokenizerFile(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	log.Debug().
		Str("path", path).
		Int("size", b.Vocab.Size()).
		Int("rules", b.Merges.Len()).
		Int("added", len(b.AddedTokens)).
		Msg("Tokenizer file loaded")
	return b, nil
}

func ParseTokenizerFile(r io.Reader) (*Bundle, error) {
	var doc tokenizerJSON
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrFormat, err)
	}
	if doc.Model.Type != "" && doc.Model.Type != "BPE" {
		return nil, fmt.Errorf("%w: model type %q is not BPE", errs.ErrFormat, doc.Model.Type)
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, fmt.Errorf("%w: model has no vocab", errs.ErrFormat)
	}

	v, err := vocab.Parse(bytes.NewReader(doc.Model.Vocab))
	if err != nil {
		return nil, err
	}
	m, err := merges.New(doc.Model.Merges)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Merges:     m,
		Normalizer: normalizerOptions(doc.Normalizer),
	}
	if n := doc.Normalizer; n != nil && n.Type == "BertNormalizer" && n.StripAccents != nil {
		b.stripAccentsSet = true
	}
	if doc.Model.UnkToken != nil {
		b.UnkToken = *doc.Model.UnkToken
	}
	if doc.Model.EndOfWordSuffix != nil {
		b.EndOfWordSuffix = *doc.Model.EndOfWordSuffix
	}

	added := append([]addedTokenJSON(nil), doc.AddedTokens...)
	sort.SliceStable(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	for _, at := range added {
		if id, ok := v.ID(at.Content); ok {
			if id != at.ID {
				return nil, fmt.Errorf("%w: added token %q has id %d, vocabulary says %d", errs.ErrFormat, at.Content, at.ID, id)
			}
		} else {
			if at.ID != v.Size() {
				return nil, fmt.Errorf("%w: added token %q id %d leaves a gap after %d tokens", errs.ErrFormat, at.Content, at.ID, v.Size())
			}
			v = v.With(at.Content)
		}
		b.AddedTokens = append(b.AddedTokens, AddedToken{ID: at.ID, Content: at.Content, Special: at.Special})
	}
	b.Vocab = v
	return b, nil
}

func normalizerOptions(n *normalizerJSON) normalize.Options {
	opts := normalize.Default()
	if n == nil || n.Type != "BertNormalizer" {
		return opts
	}
	if n.CleanText != nil {
		opts.CleanText = *n.CleanText
	}
	if n.HandleChineseChars != nil {
		opts.HandleChineseChars = *n.HandleChineseChars
	}
	if n.Lowercase != nil {
		opts.Lowercase = *n.Lowercase
	}
	opts.StripAccents = opts.Lowercase
	if n.StripAccents != nil {
		opts.StripAccents = *n.StripAccents
	}
	return opts
}

// WriteTokenizerFile serializes b in the combined format.
func WriteTokenizerFile(w io.Writer, b *Bundle) error {
	var vocabBuf bytes.Buffer
	if err := b.Vocab.Write(&vocabBuf); err != nil {
		return err
	}

	suffix := b.EndOfWordSuffix
	unk := b.UnkToken
	stripAccents := b.Normalizer.StripAccents
	doc := tokenizerJSON{
		Version:    "1.0",
		Truncation: json.RawMessage("null"),
		Padding:    json.RawMessage("null"),
		Normalizer: &normalizerJSON{
			Type:               "BertNormalizer",
			CleanText:          &b.Normalizer.CleanText,
			HandleChineseChars: &b.Normalizer.HandleChineseChars,
			StripAccents:       &stripAccents,
			Lowercase:          &b.Normalizer.Lowercase,
		},
		PreTokenizer: &preTokenizerJSON{Type: "BertPreTokenizer"},
		Decoder:      &decoderJSON{Type: "BPEDecoder", Suffix: suffix},
		Model: modelJSON{
			Type:            "BPE",
			UnkToken:        &unk,
			EndOfWordSuffix: &suffix,
			Vocab:           json.RawMessage(bytes.TrimSpace(vocabBuf.Bytes())),
			Merges:          mergeList(b.Merges.Rules()),
		},
	}
	for _, at := range b.AddedTokens {
		doc.AddedTokens = append(doc.AddedTokens, addedTokenJSON{
			ID:      at.ID,
			Content: at.Content,
			Special: at.Special,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// SaveTokenizerFile writes b to dir as [prefix-]tokenizer.json.
func (s *Store) SaveTokenizerFile(dir, prefix string, b *Bundle) (string, error) {
	name := TokenizerFileName
	if prefix != "" {
		name = prefix + "-" + name
	}
	path := filepath.Join(dir, name)

	err := atomicfs.WriteFiles(s.fs, atomicfs.File{
		Path:  path,
		Write: func(w io.Writer) error { return WriteTokenizerFile(w, b) },
	})
	if err != nil {
		return "", fmt.Errorf("failed to save tokenizer file: %w", err)
	}
	log.Debug().Str("path", path).Msg("Tokenizer file saved")
	return path, nil
}
