package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/modelctl/internal/app/transfer"
)

func init() {
	rmCmd.Flags().StringVar(&rmHost, "host", transfer.LocalLocator, "Location to remove from")
	rootCmd.AddCommand(rmCmd)
}

var rmHost string

var rmCmd = &cobra.Command{
	Use:   "rm MODEL",
	Short: "Remove a model from the local store or a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

func runRm(cmd *cobra.Command, args []string) error {
	modelName := args[0]

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ep, err := d.Endpoint(rmHost)
	if err != nil {
		return err
	}
	if err := ep.Remove(context.Background(), modelName); err != nil {
		return err
	}

	fmt.Printf("Removed %s from %s\n", modelName, ep)
	return nil
}
