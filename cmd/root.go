package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethanolivertroy/sbomgraph/internal/config"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/lmittmann/tint"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	cfgFile string
	cfg     *models.Config
)

// errThreshold signals findings at or above --fail-on
var errThreshold = errors.New("findings at or above the failure threshold")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	SilenceUsage:  true,
	SilenceErrors: true,
	Use:           "sbomgraph",
	Short:         "Map SBOM dependency graphs and attribute known vulnerabilities",
	Version:       version,
	Long: `sbomgraph reads an SBOM (SPDX or CycloneDX JSON) or a dependency manifest,
rebuilds the dependency graph it describes and queries the OSV database for
known vulnerabilities of every package.

Each package is classified as a direct, transitive or indirect dependency of
the described artifact, with the packages that introduced it. Findings are
attributed only when the advisory covers the package's ecosystem.

Supported inputs:
  - SPDX 2.x JSON, including GitHub dependency-graph exports
  - CycloneDX JSON
  - go.mod, package.json, package-lock.json, requirements.txt, pyproject.toml

Long runs are checkpointed and can be resumed with --resume.

Examples:
  # Analyze a GitHub SBOM export
  sbomgraph analyze sbom.json

  # SARIF for GitHub Code Scanning, failing on high or critical findings
  sbomgraph analyze sbom.json --format sarif --output results.sarif --fail-on high

  # Resume an interrupted run
  sbomgraph analyze sbom.json --run-id 7d0c... --resume

  # Most common dependencies across many SBOMs
  sbomgraph stats sboms/*.json`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := cmd.Flags().GetString("logLevel")
		if err != nil {
			return err
		}

		switch level {
		case "debug":
			initLogger(slog.LevelDebug)
		case "info":
			initLogger(slog.LevelInfo)
		case "warn":
			initLogger(slog.LevelWarn)
		case "error":
			initLogger(slog.LevelError)
		default:
			initLogger(slog.LevelInfo)
		}

		return initializeConfig(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
	case errors.Is(err, errThreshold):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func init() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sbomgraph\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", commit)
			fmt.Printf("Built:      %s\n", date)
		},
	}

	rootCmd.AddCommand(
		versionCmd,
		newAnalyzeCommand(),
		newCheckpointCommand(),
		newStatsCommand(),
		newCacheCommand(),
	)

	defaults := models.DefaultConfig()
	rootCmd.PersistentFlags().StringP("logLevel", "l", "warn", "Set the log level. Options: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./"+config.DefaultFilename+" if present)")
	rootCmd.PersistentFlags().String("store", defaults.Store, "Checkpoint store: file, sqlite, none")
	rootCmd.PersistentFlags().String("store-path", defaults.StorePath, "Directory for checkpoint files or database")
}

func initLogger(level slog.Leveler) {
	// set global logger with custom options
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}),
	))
}

// initializeConfig layers the TOML file, SBOMGRAPH_* environment variables
// and changed flags, in increasing precedence
func initializeConfig(cmd *cobra.Command) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "could not bind flags")
	}
	if err := config.Apply(v, loaded); err != nil {
		return err
	}

	cfg = loaded
	slog.Debug("configuration loaded", "store", cfg.Store, "feed", cfg.FeedURL, "batch_size", cfg.BatchSize)
	return nil
}
