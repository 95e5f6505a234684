package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/wembed/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the built-in defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		path = defaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	cmd.Printf("Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	defer sess.close()

	cfg := *sess.cfg
	if cfg.Storage.RemoteDSN != "" {
		cfg.Storage.RemoteDSN = "<redacted>"
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", sess.configPath, data)
	return nil
}
