package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/wembed/internal/cli"
	"github.com/hyperjump/wembed/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the backend in use and record counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var statusServer string

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "", "ask a running server (e.g. http://localhost:8080) instead of opening the store")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	defer sess.close()

	var st *cli.Status
	if statusServer != "" {
		st, err = fetchStatus(statusServer)
	} else {
		st, err = localStatus(cmd, sess)
	}
	if err != nil {
		return err
	}
	return cli.WriteStatus(cmd.OutOrStdout(), st, sess.format)
}

func localStatus(cmd *cobra.Command, sess *session) (*cli.Status, error) {
	ctx := cmd.Context()
	store, err := sess.store(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	usage, err := storage.LocalFootprint(sess.cfg.Storage.LocalPath)
	if err != nil {
		sess.logger.Debug("disk usage unavailable")
	}
	return &cli.Status{
		Backend:        store.Backend(),
		FellBack:       store.FellBack(),
		LocalPath:      sess.cfg.Storage.LocalPath,
		DiskUsageBytes: usage,
		Stats:          stats,
	}, nil
}

// fetchStatus reads GET /api/v1/status from a running server.
func fetchStatus(serverURL string) (*cli.Status, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out struct {
		cli.Status
		Config struct {
			LocalPath string `json:"local_path"`
		} `json:"config"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	st := out.Status
	st.LocalPath = out.Config.LocalPath
	return &st, nil
}
