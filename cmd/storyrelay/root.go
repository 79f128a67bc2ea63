package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"storyrelay/pkg/config"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/session"
	"storyrelay/pkg/ui"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "storyrelay",
	Short: "Relay Instagram stories and their text to Discord",
	Long: `storyrelay watches one Instagram account for new stories, extracts the
text in each story image with tesseract, drops posts matching the denylist
and forwards the rest to a Discord channel. Every story is relayed once.

Configuration is read from (highest priority first):
  - Command line flags
  - Environment variables (IG_USERNAME, IG_PASSWORD, TARGET_USER,
    DISCORD_TOKEN, CHANNEL_ID, TESSERACT_CMD, STORYRELAY_*)
  - .env files
  - storyrelay.yaml
  - Defaults`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetColor(!noColor)
		logger.Version = version
	},
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		ui.PrintInfo("storyrelay", version)
		ui.PrintInfo("Commit", gitCommit)
		ui.PrintInfo("Built", buildDate)
		ui.PrintInfo("Go", runtime.Version()+" "+runtime.GOOS+"/"+runtime.GOARCH)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./storyrelay.yaml or ~/.config/storyrelay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.SetVersionTemplate(`storyrelay {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves and validates the configuration, then initializes the
// global logger from it
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags, session.LookupPassword)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// loadPartialConfig reads every source without validating, for commands that
// work before the configuration is complete
func loadPartialConfig(flags map[string]interface{}) (*config.Config, error) {
	config.LoadEnvFiles()

	cfg := config.DefaultConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.MergeCommandLineFlags(flags)

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
