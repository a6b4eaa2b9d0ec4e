package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of copies to show (0 = all)")
	historyCmd.Flags().StringVar(&historyPrune, "prune", "", "Delete copies older than this (e.g. 168h); \"retention\" uses history.retention")
	rootCmd.AddCommand(historyCmd)
}

var (
	historyLimit int
	historyPrune string
)

var historyCmd = &cobra.Command{
	Use:   "history [COPY_ID]",
	Short: "Show past copies, or the blobs of one copy",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	if historyPrune != "" {
		olderThan := d.Config.HistoryRetention()
		if historyPrune != "retention" {
			if olderThan, err = time.ParseDuration(historyPrune); err != nil {
				return fmt.Errorf("--prune: %w", err)
			}
		}
		n, err := d.PruneHistory(olderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d cop%s older than %s\n", n, plural(n), olderThan)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if len(args) == 1 {
		rec, err := d.DB.GetCopy(args[0])
		if err != nil {
			return err
		}
		tasks, err := d.DB.ListTransfers(rec.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s → %s  %s %s\n", rec.Model, rec.Source, rec.Destination, rec.Status, rec.Error)
		fmt.Fprintln(w, "FILE\tDIGEST\tOUTCOME\tBYTES\tDURATION")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				t.FileName, t.Digest.Short(), t.Result.Outcome,
				humanize.Bytes(uint64(t.Result.Bytes)), t.Result.Duration.Round(time.Millisecond))
		}
		return w.Flush()
	}

	copies, err := d.DB.ListCopies(historyLimit)
	if err != nil {
		return err
	}
	if len(copies) == 0 {
		fmt.Println("No copies recorded yet.")
		return nil
	}

	fmt.Fprintln(w, "ID\tSTARTED\tMODEL\tFROM\tTO\tSTATUS\tSIZE")
	for _, c := range copies {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			humanize.Time(c.StartedAt),
			c.Model, c.Source, c.Destination, c.Status,
			humanize.Bytes(uint64(c.Bytes)),
		)
	}
	return w.Flush()
}

func plural(n int64) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
