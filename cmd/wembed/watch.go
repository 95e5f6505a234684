package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir...]",
	Short: "Watch directories and run changed files through every stage",
	Long: `Without a subcommand, watches the given directories (or watch.directories
from the config) in the foreground. Each debounced batch of created or
modified files is scanned as a file list, processed and documented.

The add, remove and list subcommands manage the directories of a running
"wembed serve" instead.`,
	Args: cobra.ArbitraryArgs,
	RunE: runWatch,
}

var watchAddCmd = &cobra.Command{
	Use:   "add <dir>",
	Short: "Add a directory to a running server's watch list",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatchAdd,
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <dir>",
	Short: "Remove a directory from a running server's watch list",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatchRemove,
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a running server's watched directories",
	Args:  cobra.NoArgs,
	RunE:  runWatchList,
}

var (
	watchServer string
	watchNoSync bool
)

func init() {
	watchCmd.Flags().BoolVar(&watchNoSync, "no-sync", false, "do not queue files that already exist")
	watchCmd.PersistentFlags().StringVar(&watchServer, "server", "http://localhost:8080", "server URL for add, remove and list")
	watchCmd.AddCommand(watchAddCmd)
	watchCmd.AddCommand(watchRemoveCmd)
	watchCmd.AddCommand(watchListCmd)
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	if err := sess.serviceLogger(); err != nil {
		return err
	}
	defer sess.close()

	dirs := args
	if len(dirs) == 0 {
		dirs = sess.cfg.Watch.Directories
	}
	if len(dirs) == 0 {
		return errors.New("no directories to watch: pass them as arguments or set watch.directories")
	}

	ctx := cmd.Context()
	r, err := sess.runner(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	w := newWatcher(sess, r, dirs)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()
	if !watchNoSync {
		w.SyncExistingFiles()
	}
	sess.logger.Info("Watching", zap.Strings("directories", w.Directories()))
	<-ctx.Done()
	sess.logger.Info("Shutting down...")
	return nil
}

var watchClient = &http.Client{Timeout: 30 * time.Second}

func watchEndpoint() string {
	return strings.TrimRight(watchServer, "/") + "/api/v1/watch/directories"
}

// readError turns a non-success response into an error carrying the server's message.
func readError(action string, resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return fmt.Errorf("%s failed (%d): %s", action, resp.StatusCode, msg)
}

func runWatchAdd(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
	resp, err := watchClient.Post(watchEndpoint(), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return readError("add", resp)
	}
	cmd.Printf("Added: %s\n", path)
	return nil
}

func runWatchRemove(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete, watchEndpoint()+"?path="+url.QueryEscape(path), nil)
	if err != nil {
		return err
	}
	resp, err := watchClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError("remove", resp)
	}
	cmd.Printf("Removed: %s\n", path)
	return nil
}

func runWatchList(cmd *cobra.Command, _ []string) error {
	resp, err := watchClient.Get(watchEndpoint())
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError("list", resp)
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	for _, d := range out.Directories {
		fmt.Fprintln(cmd.OutOrStdout(), d)
	}
	return nil
}
