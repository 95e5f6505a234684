package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyperjump/wembed/internal/cli"
	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/storage"
)

var filesCmd = &cobra.Command{
	Use:   "files [file-id]",
	Short: "List File Records, or show one by id",
	Long: `Lists the current generation of every recorded path. With a file id the
record is shown in full, including its rendered preview.`,
	Example: `  wembed files --status failed
  wembed files --path ./notes/todo.md --all
  wembed files 5c1d...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFiles,
}

var (
	filesPath     string
	filesStatus   string
	filesAll      bool
	filesEligible bool
	filesLimit    int
)

func init() {
	filesCmd.Flags().StringVar(&filesPath, "path", "", "only this path")
	filesCmd.Flags().StringVar(&filesStatus, "status", "", "comma separated statuses, e.g. failed,pending")
	filesCmd.Flags().BoolVar(&filesAll, "all", false, "include older generations")
	filesCmd.Flags().BoolVar(&filesEligible, "eligible", false, "only files whose content can be documented")
	filesCmd.Flags().IntVar(&filesLimit, "limit", 100, "maximum number of records (0 = all)")
	rootCmd.AddCommand(filesCmd)
}

func runFiles(cmd *cobra.Command, args []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	defer sess.close()

	ctx := cmd.Context()
	store, err := sess.store(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		rec, err := store.GetFileRecordByID(ctx, args[0])
		if storage.IsNotFound(err) {
			return fmt.Errorf("no file record with id %s", args[0])
		}
		if err != nil {
			return err
		}
		return cli.WriteFile(cmd.OutOrStdout(), rec, sess.format)
	}

	statuses, err := models.ParseStatuses(filesStatus)
	if err != nil {
		return err
	}
	if filesLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	filter := storage.FileRecordFilter{
		Statuses:     statuses,
		EligibleOnly: filesEligible,
		LatestOnly:   !filesAll,
		Limit:        filesLimit,
	}
	if filesPath != "" {
		if filter.Path, err = filepath.Abs(filesPath); err != nil {
			return err
		}
	}
	recs, err := store.ListFileRecords(ctx, filter)
	if err != nil {
		return err
	}
	return cli.WriteFiles(cmd.OutOrStdout(), recs, sess.format)
}
