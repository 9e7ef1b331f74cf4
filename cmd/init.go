package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragpipe/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize ragpipe configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure embeddings, the vector store, chunking and answer generation, and writes a .ragpipe.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
