package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/wembed/internal/cli"
	"github.com/hyperjump/wembed/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan <repo|vault|list> <path>...",
	Short: "Record a scan entry for every candidate file",
	Long: `Walks one or more sources and records a scan entry (path, size, fingerprint)
for every candidate file. Nothing is read beyond what fingerprinting needs;
use "process" or "run" to extract metadata and content.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runScan,
}

var scanSource sourceFlags

func init() {
	scanSource.register(scanCmd.Flags())
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	defer sess.close()

	srcs, err := scanSource.sources(args[0], args[1:], sess.cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	r, err := sess.runner(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	spin := cli.StartSpinner(cmd.ErrOrStderr(), sess.showProgress(cmd), "scanning")
	var sums []*scanner.Summary
	for _, src := range srcs {
		spin.Describe("scanning " + src.DisplayName())
		sum, err := r.Scanner().Scan(ctx, src)
		if err != nil {
			spin.Stop()
			return fmt.Errorf("scan %s: %w", src.DisplayName(), err)
		}
		sums = append(sums, sum)
	}
	spin.Stop()
	return cli.WriteScanSummaries(cmd.OutOrStdout(), sums, sess.format)
}
