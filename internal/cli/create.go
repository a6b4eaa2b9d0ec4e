package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tutu-network/modelctl/internal/app"
	"github.com/tutu-network/modelctl/internal/domain"
)

func init() {
	createCmd.Flags().StringVarP(&createFile, "file", "f", "Modelfile", "Path to Modelfile")
	rootCmd.AddCommand(createCmd)
}

var createFile string

var createCmd = &cobra.Command{
	Use:   "create MODEL",
	Short: "Create a model in the local store from a Modelfile",
	Long: `Create a model in the local store from a Modelfile. FROM and ADAPTER
lines name GGUF files, relative to the Modelfile, or blobs already stored.

Example Modelfile:
  FROM ./llama3-8b-q4.gguf
  PARAMETER temperature 0.8
  SYSTEM "You are a helpful assistant."`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	modelName := args[0]
	ref, err := domain.ParseModelRef(modelName)
	if err != nil {
		return err
	}

	f, err := os.Open(createFile)
	if err != nil {
		return fmt.Errorf("read Modelfile: %w", err)
	}
	defer f.Close()

	mf, err := app.ParseModelfile(f)
	if err != nil {
		return fmt.Errorf("parse Modelfile: %w", err)
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	def, err := app.DefinitionFromModelfile(mf, filepath.Dir(createFile), d.Store)
	if err != nil {
		return err
	}
	if err := d.Store.CreateModel(ref, def); err != nil {
		return err
	}

	fmt.Printf("Created %s with %d blob(s)\n", ref, len(def.Files))
	return nil
}
