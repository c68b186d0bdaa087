package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print model artifact summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			proc, err := loadProcessor()
			if err != nil {
				return err
			}

			mp := proc.ModelProto()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model type:  %s\n", mp.TrainerSpec.ModelType)
			fmt.Fprintf(out, "pieces:      %d\n", proc.GetPieceSize())
			fmt.Fprintf(out, "unk id:      %d\n", proc.UnkID())
			fmt.Fprintf(out, "bos id:      %d\n", proc.BOSID())
			fmt.Fprintf(out, "eos id:      %d\n", proc.EOSID())
			fmt.Fprintf(out, "pad id:      %d\n", proc.PadID())
			fmt.Fprintf(out, "byte fallback: %v\n", mp.TrainerSpec.ByteFallback)
			return nil
		},
	}
}
