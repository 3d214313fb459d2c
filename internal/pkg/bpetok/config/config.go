package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Family        string   `mapstructure:"family"`
	VocabFile     string   `mapstructure:"vocab_file"`
	MergesFile    string   `mapstructure:"merges_file"`
	TokenizerFile string   `mapstructure:"tokenizer_file"`
	UnkToken      string   `mapstructure:"unk_token"`
	SpecialTokens []string `mapstructure:"special_tokens"`
	MaxLength     int      `mapstructure:"max_length"`
	CacheSize     int      `mapstructure:"cache_size"`
	Text          string   `mapstructure:"text"`
	Decode        string   `mapstructure:"decode"`
	SkipSpecial   bool     `mapstructure:"skip_special"`
	SaveDir       string   `mapstructure:"save_dir"`
	Prefix        string   `mapstructure:"prefix"`
	Combined      bool     `mapstructure:"combined"`
	ListFamilies  bool     `mapstructure:"list_families"`
	LogLevel      string   `mapstructure:"log_level"`
	LogFile       string   `mapstructure:"log_file"`

	// DecodeIDs is Decode parsed into ids.
	DecodeIDs []int `mapstructure:"-"`
}

func LoadAndParse() (*Config, error) {
	cfg, err := Parse(os.Args[1:], os.Stdin)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	return cfg, err
}

// Parse reads flags from args, then the optional TOML config file, then
// BPETOK_* environment variables. It returns pflag.ErrHelp after printing
// usage when -h is given.
func Parse(args []string, stdin io.Reader) (*Config, error) {
	v := viper.New()
	v.SetDefault("family", "openai-gpt")
	v.SetDefault("vocab_file", "")
	v.SetDefault("merges_file", "")
	v.SetDefault("tokenizer_file", "")
	v.SetDefault("unk_token", "")
	v.SetDefault("max_length", 0)
	v.SetDefault("cache_size", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	flagSet := pflag.NewFlagSet("bpetok", pflag.ContinueOnError)
	configFile := flagSet.StringP("config", "c", "", "Path to config file")
	flagSet.StringP("vocab", "V", "", "Path to vocab.json")
	flagSet.StringP("merges", "m", "", "Path to merges.txt")
	flagSet.String("tokenizer-file", "", "Path to a combined tokenizer.json (overrides --vocab/--merges)")
	flagSet.String("unk", "", "Unknown token (default <unk>)")
	flagSet.StringSlice("special", nil, "Special token matched verbatim (repeatable)")
	flagSet.Int("max-length", 0, "Truncate encoded output to this many ids (0 = off)")
	flagSet.Int("cache-size", 0, "Word cache entries (0 = off)")
	flagSet.StringP("text", "t", "", "Text to encode (use '-' to read from stdin)")
	flagSet.StringP("file", "f", "", "Read text to encode from file")
	flagSet.StringP("decode", "d", "", "Comma separated ids to decode")
	flagSet.Bool("skip-special", false, "Drop special tokens when decoding")
	flagSet.String("save-dir", "", "Directory to save the vocabulary into")
	flagSet.String("prefix", "", "File name prefix for saved files")
	flagSet.Bool("combined", false, "Also save a combined tokenizer.json")
	flagSet.String("family", "", "Tokenizer family")
	flagSet.Bool("list-families", false, "List tokenizer families and exit")
	flagSet.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	flagSet.String("log-file", "", "Log file path")
	helpFlag := flagSet.BoolP("help", "h", false, "Show help message")

	if err := flagSet.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *helpFlag {
		fmt.Fprintf(os.Stderr, "Usage: bpetok [options] [text]\n\nOptions:\n")
		flagSet.PrintDefaults()
		return nil, pflag.ErrHelp
	}

	bindings := map[string]string{
		"vocab_file":     "vocab",
		"merges_file":    "merges",
		"tokenizer_file": "tokenizer-file",
		"unk_token":      "unk",
		"special_tokens": "special",
		"max_length":     "max-length",
		"cache_size":     "cache-size",
		"text":           "text",
		"decode":         "decode",
		"skip_special":   "skip-special",
		"save_dir":       "save-dir",
		"prefix":         "prefix",
		"combined":       "combined",
		"family":         "family",
		"list_families":  "list-families",
		"log_level":      "log-level",
		"log_file":       "log-file",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("bpetok.cfg")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "bpetok"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("BPETOK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	textFile, _ := flagSet.GetString("file")
	if textFile != "" {
		content, err := os.ReadFile(textFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read text file: %w", err)
		}
		cfg.Text = string(content)
	} else if cfg.Text == "-" {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		cfg.Text = string(content)
	} else if cfg.Text == "" {
		if rest := flagSet.Args(); len(rest) > 0 {
			cfg.Text = strings.Join(rest, " ")
		}
	}

	if cfg.Decode != "" {
		ids, err := ParseIDs(cfg.Decode)
		if err != nil {
			return nil, err
		}
		cfg.DecodeIDs = ids
	}

	if cfg.ListFamilies {
		return &cfg, nil
	}
	if cfg.Text == "" && cfg.Decode == "" && cfg.SaveDir == "" {
		return nil, fmt.Errorf("nothing to do (use -t, -f, -d, --save-dir or provide text as argument)")
	}
	if cfg.TokenizerFile == "" && (cfg.VocabFile == "" || cfg.MergesFile == "") {
		return nil, fmt.Errorf("either --tokenizer-file or both --vocab and --merges are required")
	}
	if cfg.MaxLength < 0 {
		return nil, fmt.Errorf("max-length must not be negative")
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("cache-size must not be negative")
	}

	return &cfg, nil
}

// ParseIDs parses ids separated by commas and/or whitespace.
func ParseIDs(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := cast.ToIntE(f)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", f, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
