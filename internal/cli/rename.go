package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/modelctl/internal/app/transfer"
)

func init() {
	renameCmd.Flags().StringVar(&renameHost, "host", transfer.LocalLocator, "Location of the model")
	rootCmd.AddCommand(renameCmd)
}

var renameHost string

var renameCmd = &cobra.Command{
	Use:     "rename OLD NEW",
	Aliases: []string{"mv"},
	Short:   "Rename a model in place",
	Args:    cobra.ExactArgs(2),
	RunE:    runRename,
}

func runRename(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ep, err := d.Endpoint(renameHost)
	if err != nil {
		return err
	}
	if err := ep.Rename(context.Background(), args[0], args[1]); err != nil {
		return err
	}

	fmt.Printf("Renamed %s to %s on %s\n", args[0], args[1], ep)
	return nil
}
