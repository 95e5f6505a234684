package main

import (
	"github.com/spf13/cobra"

	"github.com/hyperjump/wembed/internal/cli"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract metadata for scan entries that have no File Record yet",
	Long: `Reads the latest scan entry of every known path and creates a File Record
generation for each one not processed yet: kind, MIME type, language, line
count, preview and, below the content ceiling, the file content itself.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	defer sess.close()

	ctx := cmd.Context()
	r, err := sess.runner(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	spin := cli.StartSpinner(cmd.ErrOrStderr(), sess.showProgress(cmd), "processing")
	sum, err := r.Processor().ProcessPending(ctx)
	spin.Stop()
	if err != nil {
		return err
	}
	return cli.WriteBatchSummary(cmd.OutOrStdout(), sum, sess.format)
}
