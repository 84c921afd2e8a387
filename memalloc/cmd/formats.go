package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/memalloc/mem/vm/pagetable"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the supported page table formats.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		host := pagetable.DefaultFormat().Name()

		for _, name := range pagetable.FormatNames() {
			marker := ""
			if name == host {
				marker = " (host)"
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", name, marker)
		}
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}
