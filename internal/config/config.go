// Package config loads the spm CLI configuration from defaults, flags,
// environment variables and an optional config file.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Model    ModelConfig  `mapstructure:"model"`
	Encode   EncodeConfig `mapstructure:"encode"`
	Decode   DecodeConfig `mapstructure:"decode"`
	LogLevel string       `mapstructure:"log_level"`
}

type ModelConfig struct {
	Path                string `mapstructure:"path"`
	Vocabulary          string `mapstructure:"vocabulary"`
	VocabularyThreshold int    `mapstructure:"vocabulary_threshold"`
}

type EncodeConfig struct {
	ExtraOptions string  `mapstructure:"extra_options"`
	OutFormat    string  `mapstructure:"out_format"`
	NBest        int     `mapstructure:"nbest"`
	Alpha        float64 `mapstructure:"alpha"`
}

type DecodeConfig struct {
	ExtraOptions string `mapstructure:"extra_options"`
	InFormat     string `mapstructure:"in_format"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			Path:                "spm.model",
			Vocabulary:          "",
			VocabularyThreshold: 0,
		},
		Encode: EncodeConfig{
			ExtraOptions: "",
			OutFormat:    "piece",
			NBest:        0,
			Alpha:        0,
		},
		Decode: DecodeConfig{
			ExtraOptions: "",
			InFormat:     "piece",
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("model-path", defaults.Model.Path, "Path to the serialized model artifact")
	fs.String("model-vocabulary", defaults.Model.Vocabulary, "Optional vocabulary file restricting the pieces")
	fs.Int("model-vocabulary-threshold", defaults.Model.VocabularyThreshold, "Minimum frequency for vocabulary entries")
	fs.String("encode-extra-options", defaults.Encode.ExtraOptions, "Colon-separated encode options (bos, eos, reverse)")
	fs.String("encode-out-format", defaults.Encode.OutFormat, "Encode output format (piece|id|proto)")
	fs.Int("encode-nbest", defaults.Encode.NBest, "N-best size for sampling/nbest encodes")
	fs.Float64("encode-alpha", defaults.Encode.Alpha, "Smoothing constant for sampling encodes")
	fs.String("decode-extra-options", defaults.Decode.ExtraOptions, "Colon-separated decode options (bos, eos, reverse)")
	fs.String("decode-in-format", defaults.Decode.InFormat, "Decode input format (piece|id)")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	// Aliases first: SetDefault resolves an alias to its flag-named key, which
	// is where every later lookup of the dotted key goes.
	registerAliases(v)
	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix("SPM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("spm")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("model.path", c.Model.Path)
	v.SetDefault("model.vocabulary", c.Model.Vocabulary)
	v.SetDefault("model.vocabulary_threshold", c.Model.VocabularyThreshold)
	v.SetDefault("encode.extra_options", c.Encode.ExtraOptions)
	v.SetDefault("encode.out_format", c.Encode.OutFormat)
	v.SetDefault("encode.nbest", c.Encode.NBest)
	v.SetDefault("encode.alpha", c.Encode.Alpha)
	v.SetDefault("decode.extra_options", c.Decode.ExtraOptions)
	v.SetDefault("decode.in_format", c.Decode.InFormat)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("model.path", "model-path")
	v.RegisterAlias("model.vocabulary", "model-vocabulary")
	v.RegisterAlias("model.vocabulary_threshold", "model-vocabulary-threshold")
	v.RegisterAlias("encode.extra_options", "encode-extra-options")
	v.RegisterAlias("encode.out_format", "encode-out-format")
	v.RegisterAlias("encode.nbest", "encode-nbest")
	v.RegisterAlias("encode.alpha", "encode-alpha")
	v.RegisterAlias("decode.extra_options", "decode-extra-options")
	v.RegisterAlias("decode.in_format", "decode-in-format")
	v.RegisterAlias("log_level", "log-level")
}

// ParseLogLevel maps a config string to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
