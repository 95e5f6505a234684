package main

import (
	"github.com/spf13/cobra"

	"github.com/hyperjump/wembed/internal/cli"
	"github.com/hyperjump/wembed/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run <repo|vault|list> <path>...",
	Short: "Scan, process and document one or more sources",
	Long: `Runs every stage for each source in turn: scan, metadata extraction and
document generation (conversion, chunking and embedding). Re-running over
unchanged files does no work; interrupted documents resume where they stopped.`,
	Example: `  wembed run repo ~/src/project
  wembed run vault --discover ~/notes
  wembed run list ./a.md ./b.pdf --output json`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRun,
}

var (
	runSource        sourceFlags
	runForce         bool
	runSkipDocuments bool
)

func init() {
	runSource.register(runCmd.Flags())
	runCmd.Flags().BoolVar(&runForce, "force", false, "regenerate documents that are already complete")
	runCmd.Flags().BoolVar(&runSkipDocuments, "skip-documents", false, "stop after metadata extraction")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	defer sess.close()

	srcs, err := runSource.sources(args[0], args[1:], sess.cfg)
	if err != nil {
		return err
	}

	show := sess.showProgress(cmd)
	errOut := cmd.ErrOrStderr()
	var spin *cli.Spinner
	bar := cli.NewProgress(errOut, show, "documents")
	ctx := cmd.Context()
	r, err := sess.runner(ctx,
		runner.WithStageHook(func(stage string) {
			if stage == "documents" {
				spin.Stop()
				return
			}
			spin.Describe(stage)
		}),
		runner.WithProgress(bar),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	opts := runner.Options{Force: runForce, SkipDocuments: runSkipDocuments}
	var results []*runner.Result
	for _, src := range srcs {
		spin = cli.StartSpinner(errOut, show, "scan")
		res, err := r.Run(ctx, src, opts)
		spin.Stop()
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	return cli.WriteRunResults(cmd.OutOrStdout(), results, sess.format)
}
