package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/session"
	"storyrelay/pkg/ui"
)

var noVerify bool

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the Instagram login",
	Long: `Manage the Instagram account the relay logs in with.

The password can be kept in the system keychain instead of the environment
or the config file. The session obtained at login is stored in the configured
session backend (file, encrypted file or keychain) and reused by run.`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in and store the password in the system keychain",
	Example: `  # Log in with the username from the configuration
  storyrelay auth login

  # Log in as a specific account
  storyrelay auth login relay.bot`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [username]",
	Short: "Remove the stored password and session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

// checkCmd represents the auth check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that the stored session or credentials work",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	loginCmd.Flags().BoolVar(&noVerify, "no-verify", false, "store the password without logging in")

	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(checkCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadPartialConfig(nil)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)

	username := cfg.Instagram.Username
	if len(args) > 0 {
		username = args[0]
	}
	if username == "" {
		fmt.Print("Instagram username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(input)
	}
	if username == "" {
		return errors.New("username is required")
	}

	fmt.Printf("Password for %s: ", username)
	password, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return errors.New("password is required")
	}

	if !noVerify {
		cfg.Instagram.Username = username
		cfg.Instagram.Password = password

		adapter, _, err := newFeed(cfg, logger.GetLogger(), nil)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		if err := adapter.EnsureSession(ctx, true); err != nil {
			return err
		}
		ui.PrintInfo("Logged in as", fmt.Sprintf("%s (%s)", username, adapter.Session().UserID))
	}

	if err := session.SavePassword(username, password); err != nil {
		return err
	}
	ui.PrintSuccess("Password stored in the system keychain")
	if cfg.Instagram.Username != "" && cfg.Instagram.Username != username {
		ui.PrintWarning("Configured username differs", cfg.Instagram.Username)
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadPartialConfig(nil)
	if err != nil {
		return err
	}

	username := cfg.Instagram.Username
	if len(args) > 0 {
		username = args[0]
	}
	if username == "" {
		return errors.New("username is required")
	}

	if err := session.DeletePassword(username); err != nil && !errors.Is(err, session.ErrNotFound) {
		ui.PrintWarning("Could not remove keychain password", err)
	}

	store, err := session.NewStore(cfg.Instagram)
	if err != nil {
		return err
	}
	if err := store.Delete(username); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}

	ui.PrintSuccess("Logged out " + username)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	adapter, _, err := newFeed(cfg, logger.GetLogger(), nil)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	err = adapter.EnsureSession(ctx, false)
	ui.PrintInfo("Session", adapter.State().String())
	if err != nil {
		return err
	}

	id, err := adapter.ResolveAccountID(ctx, cfg.Instagram.TargetUser)
	if err != nil {
		return fmt.Errorf("target %s: %w", cfg.Instagram.TargetUser, err)
	}
	ui.PrintInfo("Account", fmt.Sprintf("%s (%s)", cfg.Instagram.Username, adapter.Session().UserID))
	ui.PrintInfo("Target", fmt.Sprintf("%s (%s)", cfg.Instagram.TargetUser, id))
	ui.PrintSuccess("Instagram login works")
	return nil
}

// readPassword reads a password from stdin without echoing when stdin is a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
