package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/modelctl/internal/app/transfer"
)

func init() {
	showCmd.Flags().StringVar(&showHost, "host", transfer.LocalLocator, "Location of the model")
	rootCmd.AddCommand(showCmd)
}

var showHost string

var showCmd = &cobra.Command{
	Use:   "show MODEL",
	Short: "Print the Modelfile of a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ep, err := d.Endpoint(showHost)
	if err != nil {
		return err
	}
	mf, err := ep.Show(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Print(mf)
	return nil
}
