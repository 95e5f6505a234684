package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/cli"
	"github.com/hyperjump/wembed/internal/config"
	"github.com/hyperjump/wembed/internal/runner"
	"github.com/hyperjump/wembed/internal/storage"
	"github.com/hyperjump/wembed/pkg/utils"
)

var version = "dev"

// Global flags.
var (
	configPath   string
	debugFlag    bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "wembed",
	Short: "Scan files, record their metadata and embed their contents",
	Long: `wembed walks repositories, note vaults and file lists, records a versioned
metadata entry for every file and turns eligible file contents into chunked,
embedded documents stored in SQLite or PostgreSQL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ./config.yaml, then ~/.wembed/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text or json")
}

// defaultConfigPath is where `config init` writes and where the config is looked up last.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".wembed", "config.yaml")
}

// loadConfig loads config from path. When path is empty, config.yaml in the current
// directory is tried first, then the default path; when neither exists the built-in
// defaults are used. Returns the config and the path it should be saved to.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	candidates := []string{defaultConfigPath()}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append([]string{filepath.Join(cwd, "config.yaml")}, candidates...)
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, "", err
		}
		cfg, err := config.Load(candidate)
		if err != nil {
			return nil, "", err
		}
		return cfg, candidate, nil
	}
	return config.Default(), defaultConfigPath(), nil
}

// session is the state shared by every command invocation.
type session struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	format     cli.OutputFormat
	debug      bool
}

func newSession() (*session, error) {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || debugFlag
	logger, err := utils.NewCLILogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return &session{cfg: cfg, configPath: resolved, logger: logger, format: format, debug: debug}, nil
}

func (s *session) close() {
	_ = s.logger.Sync()
}

func (s *session) runner(ctx context.Context, opts ...runner.Option) (*runner.Runner, error) {
	return runner.Build(ctx, s.cfg, s.logger, opts...)
}

// store opens the record store without building an embedder.
func (s *session) store(ctx context.Context) (*storage.Resolver, error) {
	return storage.Open(ctx, storage.Options{
		LocalPath:    s.cfg.Storage.LocalPath,
		RemoteDSN:    s.cfg.Storage.RemoteDSN,
		ProbeTimeout: s.cfg.Storage.ProbeTimeout,
	}, s.logger)
}

// showProgress reports whether progress indicators should be drawn for cmd.
func (s *session) showProgress(cmd *cobra.Command) bool {
	if s.format != cli.OutputText {
		return false
	}
	f, ok := cmd.ErrOrStderr().(*os.File)
	return ok && cli.DefaultProgressEnabled(f)
}
