package main

import (
	"github.com/spf13/cobra"

	"github.com/hyperjump/wembed/internal/cli"
	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/pipeline"
	"github.com/hyperjump/wembed/internal/runner"
)

var documentsCmd = &cobra.Command{
	Use:   "documents [file-id]",
	Short: "Convert, chunk and embed eligible files",
	Long: `Generates documents for every eligible File Record that is not complete yet,
or for a single File Record when its id is given. Partially embedded
documents resume from the first chunk without an embedding.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDocuments,
}

var (
	documentsForce bool
	documentsLimit int
)

func init() {
	documentsCmd.Flags().BoolVar(&documentsForce, "force", false, "regenerate documents that are already complete")
	documentsCmd.Flags().IntVar(&documentsLimit, "limit", 0, "maximum number of files to consider (0 = all)")
	rootCmd.AddCommand(documentsCmd)
}

func runDocuments(cmd *cobra.Command, args []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	defer sess.close()

	ctx := cmd.Context()
	bar := cli.NewProgress(cmd.ErrOrStderr(), sess.showProgress(cmd), "documents")
	r, err := sess.runner(ctx, runner.WithProgress(bar))
	if err != nil {
		return err
	}
	defer r.Close()

	var sum *models.BatchSummary
	if len(args) == 1 {
		sum, err = r.Pipeline().ProcessFile(ctx, args[0], documentsForce)
	} else {
		sum, err = r.Pipeline().Run(ctx, pipeline.RunOptions{Force: documentsForce, Limit: documentsLimit})
	}
	if err != nil {
		return err
	}
	return cli.WriteBatchSummary(cmd.OutOrStdout(), sum, sess.format)
}
