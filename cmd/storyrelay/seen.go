package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/seen"
	"storyrelay/pkg/ui"
)

var seenFile string

// seenCmd represents the seen command
var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Inspect or pre-seed the set of relayed story ids",
	Long: `Stories whose id is in the seen file are never relayed again. Adding ids
by hand marks stories as relayed without sending them, e.g. when moving the
relay to a new machine.`,
}

// seenListCmd represents the seen list command
var seenListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the relayed story ids",
	Args:  cobra.NoArgs,
	RunE:  runSeenList,
}

// seenAddCmd represents the seen add command
var seenAddCmd = &cobra.Command{
	Use:     "add <id>...",
	Short:   "Mark story ids as relayed",
	Example: `  storyrelay seen add 3170000000000000001 3170000000000000002`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runSeenAdd,
}

func init() {
	seenCmd.PersistentFlags().StringVar(&seenFile, "seen-file", "", "file holding the relayed story ids")

	rootCmd.AddCommand(seenCmd)
	seenCmd.AddCommand(seenListCmd)
	seenCmd.AddCommand(seenAddCmd)
}

func openSeenStore() (*seen.Store, error) {
	cfg, err := loadPartialConfig(map[string]interface{}{"seen-file": seenFile})
	if err != nil {
		return nil, err
	}
	return seen.NewStore(cfg.Storage.SeenFile, logger.GetLogger()), nil
}

func runSeenList(cmd *cobra.Command, args []string) error {
	store, err := openSeenStore()
	if err != nil {
		return err
	}
	set, err := store.Load()
	if err != nil {
		return err
	}

	ui.PrintLines(set.IDs())
	ui.PrintInfo("Total", fmt.Sprintf("%d ids in %s", set.Len(), store.Path()))
	return nil
}

func runSeenAdd(cmd *cobra.Command, args []string) error {
	store, err := openSeenStore()
	if err != nil {
		return err
	}
	set, err := store.Load()
	if err != nil {
		return err
	}

	added := 0
	for _, id := range args {
		id = strings.TrimSpace(id)
		if id == "" || set.Has(id) {
			continue
		}
		set.Add(id)
		added++
	}
	if added == 0 {
		ui.PrintWarning("Nothing to add")
		return nil
	}

	if err := store.Save(set); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Added %d ids, %d total", added, set.Len()))
	return nil
}
