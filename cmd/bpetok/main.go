package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bpetok/internal/pkg/bpetok/config"
	"bpetok/internal/pkg/bpetok/tokenizer"

	_ "bpetok/internal/pkg/bpetok/backends/gpt"
)

type tokenizerFileSaver interface {
	SaveTokenizerFile(dir, prefix string) (string, error)
}

type specialSkipper interface {
	DecodeSkipSpecial(ids []int) (string, error)
}

func main() {
	fmt.Fprintf(os.Stderr, "bpetok %s\n", Version)

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadAndParse()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}

	if err := setupLogging(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	if cfg.ListFamilies {
		families := tokenizer.ListFamilies()
		fmt.Fprintf(os.Stderr, "Available tokenizer families (%d):\n", len(families))
		for _, f := range families {
			fmt.Fprintf(os.Stderr, "  %s\n", f)
		}
		return
	}

	log.Debug().
		Str("family", cfg.Family).
		Str("vocab", cfg.VocabFile).
		Str("merges", cfg.MergesFile).
		Str("tokenizer_file", cfg.TokenizerFile).
		Strs("special", cfg.SpecialTokens).
		Int("max_length", cfg.MaxLength).
		Int("cache_size", cfg.CacheSize).
		Msg("Configuration loaded")

	startTime := time.Now()
	tok, err := tokenizer.New(cfg.Family, buildTokenizerConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Str("family", cfg.Family).Msg("Failed to load tokenizer")
	}

	info := tok.Info()
	log.Debug().
		Str("family", info.Family).
		Int("vocab_size", info.VocabSize).
		Str("unk", info.UnkToken).
		Dur("elapsed", time.Since(startTime)).
		Msg("Tokenizer loaded")

	if cfg.Text != "" {
		ids := tok.Encode(cfg.Text)
		log.Debug().Str("text", truncateText(cfg.Text, 50)).Int("ids", len(ids)).Msg("Text encoded")
		fmt.Println(joinIDs(ids))
	}

	if cfg.Decode != "" {
		var text string
		if skipper, ok := tok.(specialSkipper); ok && cfg.SkipSpecial {
			text, err = skipper.DecodeSkipSpecial(cfg.DecodeIDs)
		} else {
			text, err = tok.Decode(cfg.DecodeIDs)
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to decode ids")
		}
		fmt.Println(text)
	}

	if cfg.SaveDir != "" {
		paths, err := tok.SaveVocabulary(cfg.SaveDir, cfg.Prefix)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.SaveDir).Msg("Failed to save vocabulary")
		}
		if cfg.Combined {
			saver, ok := tok.(tokenizerFileSaver)
			if !ok {
				log.Fatal().Str("family", cfg.Family).Msg("Family does not support the combined tokenizer file")
			}
			path, err := saver.SaveTokenizerFile(cfg.SaveDir, cfg.Prefix)
			if err != nil {
				log.Fatal().Err(err).Str("dir", cfg.SaveDir).Msg("Failed to save tokenizer file")
			}
			paths = append(paths, path)
		}
		log.Info().Strs("files", paths).Msg("Vocabulary saved successfully")
	}
}

func buildTokenizerConfig(cfg *config.Config) tokenizer.Config {
	return tokenizer.Config{
		VocabFile:     cfg.VocabFile,
		MergesFile:    cfg.MergesFile,
		TokenizerFile: cfg.TokenizerFile,
		UnkToken:      cfg.UnkToken,
		SpecialTokens: cfg.SpecialTokens,
		MaxLength:     cfg.MaxLength,
		CacheSize:     cfg.CacheSize,
	}
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}

	return nil
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " ")
}

// truncateText keeps the first maxLen runes of text.
func truncateText(text string, maxLen int) string {
	n := 0
	for i := range text {
		if n == maxLen {
			return text[:i] + "..."
		}
		n++
	}
	return text
}
