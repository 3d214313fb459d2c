package store

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"bpetok/internal/pkg/bpetok/errs"
	"bpetok/internal/pkg/bpetok/merges"
	"bpetok/internal/pkg/bpetok/normalize"
)

const (
	testVocab  = `{"<unk>":0,"low":1,"er</w>":2,"lower</w>":3}`
	testMerges = "#version: 0.2\nl o\nlo w\ne r</w>\nlow er</w>\n"
)

const testTokenizerFile = `{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [
    {"id": 4, "content": "<pad>", "special": true},
    {"id": 0, "content": "<unk>", "special": true}
  ],
  "normalizer": {"type": "BertNormalizer", "clean_text": true, "handle_chinese_chars": false, "strip_accents": null, "lowercase": true},
  "pre_tokenizer": {"type": "BertPreTokenizer"},
  "decoder": {"type": "BPEDecoder", "suffix": "</w>"},
  "model": {
    "type": "BPE",
    "dropout": null,
    "unk_token": "<unk>",
    "end_of_word_suffix": "</w>",
    "vocab": {"<unk>": 0, "low": 1, "er</w>": 2, "lower</w>": 3},
    "merges": ["l o", ["lo", "w"], "e r</w>", "low er</w>"]
  }
}`

func writeFixtures(t *testing.T, fs afero.Fs) {
	t.Helper()
	files := map[string]string{
		"/m/vocab.json":     testVocab,
		"/m/merges.txt":     testMerges,
		"/m/tokenizer.json": testTokenizerFile,
	}
	for path, data := range files {
		if err := afero.WriteFile(fs, path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoadPair(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFixtures(t, fs)

	b, err := New(fs).Load(Files{Vocab: "/m/vocab.json", Merges: "/m/merges.txt"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Vocab.Size() != 4 || b.Merges.Len() != 4 {
		t.Fatalf("sizes = %d, %d", b.Vocab.Size(), b.Merges.Len())
	}
	if b.Normalizer != normalize.Default() {
		t.Fatalf("normalizer = %+v", b.Normalizer)
	}
}

func TestLoadPrefersTokenizerFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFixtures(t, fs)

	b, err := New(fs).Load(Files{
		Vocab:     "/m/missing.json",
		Merges:    "/m/missing.txt",
		Tokenizer: "/m/tokenizer.json",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Vocab.Size() != 5 {
		t.Fatalf("Size = %d, want the added <pad> appended", b.Vocab.Size())
	}
	if id, _ := b.Vocab.ID("<pad>"); id != 4 {
		t.Fatalf("ID(<pad>) = %d", id)
	}
	if r, ok := b.Merges.RankOf("lo", "w"); !ok || r != 1 {
		t.Fatalf("RankOf(lo, w) = %d, %v", r, ok)
	}
	if b.UnkToken != "<unk>" || b.EndOfWordSuffix != "</w>" {
		t.Fatalf("unk %q suffix %q", b.UnkToken, b.EndOfWordSuffix)
	}
	want := normalize.Options{CleanText: true, Lowercase: true, StripAccents: true}
	if b.Normalizer != want {
		t.Fatalf("normalizer = %+v, want %+v", b.Normalizer, want)
	}
	if len(b.AddedTokens) != 2 || b.AddedTokens[0].Content != "<unk>" {
		t.Fatalf("added = %+v", b.AddedTokens)
	}
}

func TestForceLowercase(t *testing.T) {
	cases := []struct {
		name      string
		norm      string
		wantStrip bool
	}{
		{"strip follows", `{"type": "BertNormalizer", "lowercase": false}`, true},
		{"strip null", `{"type": "BertNormalizer", "lowercase": false, "strip_accents": null}`, true},
		{"strip explicit", `{"type": "BertNormalizer", "lowercase": false, "strip_accents": false}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := `{"normalizer": ` + tc.norm + `, "model": {"type": "BPE", "vocab": {"a": 0}}}`
			b, err := ParseTokenizerFile(strings.NewReader(doc))
			if err != nil {
				t.Fatal(err)
			}
			b.ForceLowercase()
			if !b.Normalizer.Lowercase || b.Normalizer.StripAccents != tc.wantStrip {
				t.Fatalf("normalizer = %+v, want strip %v", b.Normalizer, tc.wantStrip)
			}
		})
	}
}

func TestLoadMissingFiles(t *testing.T) {
	_, err := New(afero.NewMemMapFs()).Load(Files{Vocab: "/m/vocab.json"})
	if !errors.Is(err, ErrMissingFiles) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadPropagatesFormatErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFixtures(t, fs)
	_ = afero.WriteFile(fs, "/m/bad.txt", []byte("a b c\n"), 0o644)

	_, err := New(fs).Load(Files{Vocab: "/m/vocab.json", Merges: "/m/bad.txt"})
	if !errors.Is(err, errs.ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
}

func TestParseTokenizerFileErrors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `{`, errs.ErrFormat},
		{"wordpiece", `{"model": {"type": "WordPiece", "vocab": {"a": 0}}}`, errs.ErrFormat},
		{"no vocab", `{"model": {"type": "BPE"}}`, errs.ErrFormat},
		{"bad merge", `{"model": {"type": "BPE", "vocab": {"a": 0}, "merges": ["a"]}}`, errs.ErrFormat},
		{"space in pair symbol", `{"model": {"type": "BPE", "vocab": {"<unk>": 0, "a b": 1, "c": 2}, "merges": [["a b", "c"]]}}`, errs.ErrFormat},
		{"duplicate merge", `{"model": {"type": "BPE", "vocab": {"a": 0}, "merges": ["a b", ["a", "b"]]}}`, errs.ErrDuplicateRule},
		{"duplicate id", `{"model": {"type": "BPE", "vocab": {"a": 0, "b": 0}}}`, errs.ErrDuplicateID},
		{"added id mismatch", `{"added_tokens": [{"id": 3, "content": "a"}], "model": {"type": "BPE", "vocab": {"a": 0}}}`, errs.ErrFormat},
		{"added id gap", `{"added_tokens": [{"id": 5, "content": "b"}], "model": {"type": "BPE", "vocab": {"a": 0}}}`, errs.ErrFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTokenizerFile(strings.NewReader(tc.in))
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestTokenizerFileRoundTrip(t *testing.T) {
	b, err := ParseTokenizerFile(strings.NewReader(testTokenizerFile))
	if err != nil {
		t.Fatal(err)
	}

	fs := afero.NewMemMapFs()
	s := New(fs)
	path, err := s.SaveTokenizerFile("/out", "gpt", b)
	if err != nil {
		t.Fatalf("SaveTokenizerFile: %v", err)
	}
	if path != "/out/gpt-tokenizer.json" {
		t.Fatalf("path = %q", path)
	}

	again, err := s.LoadTokenizerFile(path)
	if err != nil {
		t.Fatalf("LoadTokenizerFile: %v", err)
	}
	if !reflect.DeepEqual(again.Vocab.Tokens(), b.Vocab.Tokens()) {
		t.Fatalf("vocab mismatch: %q vs %q", again.Vocab.Tokens(), b.Vocab.Tokens())
	}
	if !reflect.DeepEqual(again.Merges.Rules(), b.Merges.Rules()) {
		t.Fatalf("merges mismatch")
	}
	if again.Normalizer != b.Normalizer || again.UnkToken != b.UnkToken || again.EndOfWordSuffix != b.EndOfWordSuffix {
		t.Fatalf("settings mismatch: %+v vs %+v", again, b)
	}
	if !reflect.DeepEqual(again.AddedTokens, b.AddedTokens) {
		t.Fatalf("added mismatch: %+v vs %+v", again.AddedTokens, b.AddedTokens)
	}

	var first, second bytes.Buffer
	if err := WriteTokenizerFile(&first, b); err != nil {
		t.Fatal(err)
	}
	if err := WriteTokenizerFile(&second, again); err != nil {
		t.Fatal(err)
	}
	if first.String() != second.String() {
		t.Fatalf("tokenizer file is not a fixed point")
	}
	if !strings.Contains(first.String(), `"<unk>": 0`) {
		t.Fatalf("special tokens should not be HTML escaped:\n%s", first.String())
	}
}

func TestSaveVocabulary(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFixtures(t, fs)
	s := New(fs)
	b, err := s.Load(Files{Vocab: "/m/vocab.json", Merges: "/m/merges.txt"})
	if err != nil {
		t.Fatal(err)
	}

	vocabPath, mergesPath, err := s.SaveVocabulary("/saved/deep", "", b.Vocab, b.Merges)
	if err != nil {
		t.Fatalf("SaveVocabulary: %v", err)
	}
	if vocabPath != "/saved/deep/vocab.json" || mergesPath != "/saved/deep/merges.txt" {
		t.Fatalf("paths = %q, %q", vocabPath, mergesPath)
	}

	again, err := s.Load(Files{Vocab: vocabPath, Merges: mergesPath})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(again.Vocab.Tokens(), b.Vocab.Tokens()) {
		t.Fatalf("vocab mismatch")
	}
	if !reflect.DeepEqual(again.Merges.Rules(), b.Merges.Rules()) {
		t.Fatalf("merges mismatch")
	}
	data, _ := afero.ReadFile(fs, mergesPath)
	if string(data) != testMerges {
		t.Fatalf("merges file = %q", data)
	}
}

func TestSaveVocabularyReadOnly(t *testing.T) {
	m, _ := merges.New(nil)
	b, err := ParseTokenizerFile(strings.NewReader(testTokenizerFile))
	if err != nil {
		t.Fatal(err)
	}
	s := New(afero.NewReadOnlyFs(afero.NewMemMapFs()))
	if _, _, err := s.SaveVocabulary("/out", "p", b.Vocab, m); !errors.Is(err, errs.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
}

func TestNewDefaultsToOsFs(t *testing.T) {
	if _, ok := New(nil).Fs().(*afero.OsFs); !ok {
		t.Fatalf("nil fs should map to the OS filesystem")
	}
}
