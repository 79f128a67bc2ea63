package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"storyrelay/pkg/config"
	"storyrelay/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration files",
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with every option set to its default",
	Long: `Write the default configuration to storyrelay.yaml, or to the path given
with --config. Existing files are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "storyrelay.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration written to " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Set instagram.username, instagram.target_user, discord.token and discord.channel_id")
	fmt.Println("2. Store the Instagram password with 'storyrelay auth login' or set IG_PASSWORD")
	fmt.Println("3. Run 'storyrelay config validate'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadPartialConfig(nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg.Masked())
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadPartialConfig(nil)
	if err != nil {
		return err
	}

	problems := configProblems(cfg)
	for _, warning := range configWarnings(cfg) {
		ui.PrintWarning("Warning", warning)
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return errors.New("invalid configuration")
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Target", cfg.Instagram.TargetUser)
	ui.PrintInfo("Channel", cfg.Discord.ChannelID)
	ui.PrintInfo("Delay", fmt.Sprintf("%s to %s", cfg.Schedule.MinDelay, cfg.Schedule.MaxDelay))
	ui.PrintInfo("Denylist entries", fmt.Sprintf("%d", len(cfg.Denylist)))
	return nil
}

// configProblems lists validation errors one per line
func configProblems(cfg *config.Config) []string {
	var problems []string
	if err := cfg.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				problems = append(problems, line)
			}
		}
	}
	if err := os.MkdirAll(cfg.Storage.DownloadDir, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create download directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	return problems
}

func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if _, err := exec.LookPath(cfg.OCR.Command); err != nil {
		warnings = append(warnings, fmt.Sprintf("%s not found, set TESSERACT_CMD", cfg.OCR.Command))
	}
	if len(cfg.Denylist) == 0 {
		warnings = append(warnings, "denylist is empty, every story is relayed")
	}
	if cfg.Instagram.SessionBackend == config.SessionBackendFile {
		warnings = append(warnings, "session is stored unencrypted in "+cfg.Instagram.SessionFile)
	}
	return warnings
}
