package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/memalloc/datarecording"
	"github.com/sarchlab/memalloc/tracing"
)

var reportCmd = &cobra.Command{
	Use:   "report <file.sqlite3>",
	Short: "Print the requests stored in a recording.",
	Long: "`report run.sqlite3` lists the requests a run recorded with " +
		"MEMALLOC_RECORD set.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		outcome, _ := cmd.Flags().GetString("outcome")

		return printReport(cmd.Context(), cmd, reader, outcome)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().String("outcome", "",
		"Only show requests with this outcome (allocated, partial, rejected, release-ignored)")
}

func printReport(
	ctx context.Context,
	cmd *cobra.Command,
	reader datarecording.DataReader,
	outcome string,
) error {
	reader.MapTable(tracing.ResultTable, tracing.ResultRecord{})

	params := datarecording.QueryParams{OrderBy: "rowid"}
	if outcome != "" {
		params.Where = "Outcome = ?"
		params.Args = []any{outcome}
	}

	results, total, err := reader.Query(ctx, tracing.ResultTable, params)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tPID\tVADDR\tPAGES\tINSTALLED\tOUTCOME\tERROR")

	for _, r := range results {
		rec := r.(*tracing.ResultRecord)
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			rec.ID, rec.Kind, rec.PID, rec.VAddr,
			rec.PagesRequested, rec.PagesInstalled, rec.Outcome, rec.Error)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d requests\n", total)

	return nil
}
