package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/example/go-sentencepiece/internal/config"
	"github.com/example/go-sentencepiece/sentencepiece"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "spm",
		Short: "SentencePiece processor command line",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newEncodeCmd())
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newInfoCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := config.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

// loadProcessor builds a processor from the active configuration, applying
// the optional vocabulary constraint and extra options.
func loadProcessor() (*sentencepiece.Processor, error) {
	if activeCfg.Model.Path == "" {
		return nil, fmt.Errorf("configuration not loaded")
	}

	proc := sentencepiece.NewProcessor()
	if err := proc.Load(activeCfg.Model.Path); err != nil {
		return nil, err
	}
	if activeCfg.Model.Vocabulary != "" {
		if err := proc.LoadVocabulary(activeCfg.Model.Vocabulary, activeCfg.Model.VocabularyThreshold); err != nil {
			return nil, err
		}
	}
	if activeCfg.Encode.ExtraOptions != "" {
		if err := proc.SetEncodeExtraOptions(activeCfg.Encode.ExtraOptions); err != nil {
			return nil, err
		}
	}
	if activeCfg.Decode.ExtraOptions != "" {
		if err := proc.SetDecodeExtraOptions(activeCfg.Decode.ExtraOptions); err != nil {
			return nil, err
		}
	}
	return proc, nil
}
