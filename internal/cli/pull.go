package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/modelctl/internal/app/transfer"
)

func init() {
	rootCmd.AddCommand(pullCmd)
}

var pullCmd = &cobra.Command{
	Use:   "pull MODEL",
	Short: "Download a model from the registry into the local store",
	Long:  `Fetch a model's manifest and layers from the configured registry mirrors, in order.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPull,
}

func runPull(cmd *cobra.Command, args []string) error {
	model := args[0]

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	rl, err := rateLimit()
	if err != nil {
		return err
	}
	cfg, err := d.TransferConfig(rl)
	if err != nil {
		return err
	}
	pb := newProgressBar(os.Stderr)
	cfg.Engine.Progress = pb.update
	cfg.OnTask = pb.done
	cfg.OnStatus = pb.status

	puller, err := transfer.NewPuller(transfer.LocalEndpoint(d.Store), cfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	fmt.Fprintf(os.Stderr, "pulling %s\n", model)
	rep, err := puller.Pull(ctx, model)
	if err != nil {
		return err
	}
	printReport(rep)
	return nil
}
