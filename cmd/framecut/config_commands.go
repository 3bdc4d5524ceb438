package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"framecut/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the framecut configuration",
	}
	configCmd.AddCommand(
		newConfigInitCommand(),
		newConfigValidateCommand(ctx),
		newConfigShowCommand(ctx),
	)
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration with every default spelled out",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := configTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, err := os.Stat(target)
				switch {
				case err == nil:
					return fmt.Errorf("%s already exists (pass --overwrite to replace it)", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "  [engine]     ffmpeg/ffprobe binaries and the load and operation timeouts")
			fmt.Fprintln(out, "  [quality]    CRF used by convert for the low, medium and high tiers")
			fmt.Fprintln(out, "  [artifacts]  result URL base and release grace")
			fmt.Fprintln(out, "  [server]     bind address and request limits for framecut serve")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination (default ~/.config/framecut/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func configTarget(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		target, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return target, nil
	}
	target, err := config.ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return target, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and print the effective engine settings",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(*ctx.configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			source := path
			if !exists {
				source = path + " (missing, defaults used)"
			}
			fmt.Fprintf(out, "Config: %s\n", source)
			fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, settingRows(cfg), nil))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return config.Encode(cmd.OutOrStdout(), cfg)
		},
	}
}

func settingRows(cfg *config.Config) [][]string {
	historyDB := cfg.Paths.HistoryDB
	if historyDB == "" {
		historyDB = "disabled"
	}
	baseURL := cfg.Artifacts.BaseURL
	if baseURL == "" {
		baseURL = "relative"
	}
	return [][]string{
		{"paths.work_dir", cfg.Paths.WorkDir},
		{"paths.history_db", historyDB},
		{"engine.ffmpeg_binary", cfg.Engine.FFmpegBinary},
		{"engine.ffprobe_binary", cfg.Engine.FFprobeBinary},
		{"engine.load_timeout", cfg.LoadTimeout().String()},
		{"engine.operation_timeout", cfg.OperationTimeout().String()},
		{"quality (low/medium/high)", fmt.Sprintf("%d/%d/%d", cfg.Quality.Low, cfg.Quality.Medium, cfg.Quality.High)},
		{"artifacts.release_grace", cfg.ReleaseGrace().String()},
		{"artifacts.base_url", baseURL},
		{"server.bind", cfg.Server.Bind},
		{"server.requests_per_minute", strconv.Itoa(cfg.Server.RequestsPerMinute)},
	}
}
