package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tutu-network/modelctl/internal/app/transfer"
	"github.com/tutu-network/modelctl/internal/domain"
)

func init() {
	copyCmd.Flags().StringVar(&copyFrom, "from", transfer.LocalLocator, `Source location ("local" or server address)`)
	copyCmd.Flags().StringVar(&copyTo, "to", "", `Destination location ("local" or server address)`)
	_ = copyCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(copyCmd)
}

var (
	copyFrom string
	copyTo   string
)

var copyCmd = &cobra.Command{
	Use:     "copy MODEL [TARGET]",
	Aliases: []string{"cp"},
	Short:   "Copy a model between the local store and servers",
	Long: `Copy a model's blobs from one location to another and register it there.

Blobs the destination already has are skipped. Between two servers the bytes
are relayed through this machine without touching disk.

Examples:
  modelctl copy llama3:8b --to gpu-box
  modelctl copy llama3:8b --from gpu-a:11434 --to gpu-b:11434
  modelctl copy llama3:8b my-llama --from gpu-box --to local`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCopy,
}

func runCopy(cmd *cobra.Command, args []string) error {
	model, target := args[0], ""
	if len(args) > 1 {
		target = args[1]
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	src, err := d.Endpoint(copyFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	dst, err := d.Endpoint(copyTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

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

	ctx, stop := signalContext()
	defer stop()

	fmt.Fprintf(os.Stderr, "copying %s from %s to %s\n", model, src, dst)
	rep, err := transfer.NewCopier(src, dst, cfg).Copy(ctx, model, target)
	if err != nil {
		return err
	}
	printReport(rep)
	return nil
}

func printReport(rep *transfer.Report) {
	fmt.Printf("%s: %d transferred, %d skipped, %s in %s\n",
		rep.Target,
		rep.Count(domain.OutcomeTransferred),
		rep.Count(domain.OutcomeSkipped),
		humanize.Bytes(uint64(rep.Bytes)),
		rep.Duration.Round(10*time.Millisecond),
	)
}
