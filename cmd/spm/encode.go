package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/go-sentencepiece/sentencepiece"
	"github.com/spf13/cobra"
)

func newEncodeCmd() *cobra.Command {
	var text string

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode text into subword pieces or ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			proc, err := loadProcessor()
			if err != nil {
				return err
			}

			lines, err := readInputLines(text, cmd.InOrStdin())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, line := range lines {
				rendered, err := encodeLine(proc, line)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, rendered)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to encode (if empty, read lines from stdin)")

	return cmd
}

func encodeLine(proc *sentencepiece.Processor, line string) (string, error) {
	nbest := activeCfg.Encode.NBest
	alpha := float32(activeCfg.Encode.Alpha)

	switch activeCfg.Encode.OutFormat {
	case "piece":
		var pieces []string
		var err error
		if nbest > 1 || nbest < 0 {
			pieces, err = proc.SampleEncode(line, nbest, alpha)
		} else {
			pieces, err = proc.Encode(line)
		}
		if err != nil {
			return "", err
		}
		return strings.Join(pieces, " "), nil
	case "id":
		var ids []int
		var err error
		if nbest > 1 || nbest < 0 {
			ids, err = proc.SampleEncodeIDs(line, nbest, alpha)
		} else {
			ids, err = proc.EncodeIDs(line)
		}
		if err != nil {
			return "", err
		}
		return joinInts(ids), nil
	case "proto":
		data := proc.EncodeAsSerializedProto(line)
		return base64.StdEncoding.EncodeToString(data), nil
	}
	return "", fmt.Errorf("unsupported encode out format %q", activeCfg.Encode.OutFormat)
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " ")
}

func readInputLines(text string, stdin io.Reader) ([]string, error) {
	if text != "" {
		return []string{text}, nil
	}

	var lines []string
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("either provide --text or pipe text on stdin")
	}
	return lines, nil
}
