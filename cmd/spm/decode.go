package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/example/go-sentencepiece/sentencepiece"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Reconstruct text from subword pieces or ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			proc, err := loadProcessor()
			if err != nil {
				return err
			}

			lines, err := readInputLines(input, cmd.InOrStdin())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, line := range lines {
				text, err := decodeLine(proc, line)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Space-separated pieces or ids (if empty, read lines from stdin)")

	return cmd
}

func decodeLine(proc *sentencepiece.Processor, line string) (string, error) {
	fields := strings.Fields(line)

	switch activeCfg.Decode.InFormat {
	case "piece":
		return proc.Decode(fields)
	case "id":
		ids := make([]int, len(fields))
		for i, field := range fields {
			id, err := strconv.Atoi(field)
			if err != nil {
				return "", fmt.Errorf("invalid id %q: %w", field, err)
			}
			ids[i] = id
		}
		return proc.DecodeIDs(ids)
	}
	return "", fmt.Errorf("unsupported decode in format %q", activeCfg.Decode.InFormat)
}
