package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tutu-network/modelctl/internal/app/transfer"
)

func init() {
	listCmd.Flags().StringVar(&listHost, "host", transfer.LocalLocator, "Location to list")
	rootCmd.AddCommand(listCmd)
}

var listHost string

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List models in the local store or on a server",
	RunE:    runList,
}

func runList(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ep, err := d.Endpoint(listHost)
	if err != nil {
		return err
	}
	models, err := ep.List(context.Background())
	if err != nil {
		return err
	}

	if len(models) == 0 {
		fmt.Printf("No models on %s.\n", ep)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tSIZE")
	for _, m := range models {
		id := m.Digest
		if len(id) > 12 {
			id = id[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, id, humanize.Bytes(uint64(m.Size)))
	}
	return w.Flush()
}
