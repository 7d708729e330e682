package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crownstone/bluenet-sub000/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings [key value]",
	Short: "Show or change the persisted settings",
	Long: `Without arguments, print the settings file as JSON. With a key and a value,
change one setting, e.g.

  powersampler settings current_threshold 10000`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected no arguments or a key and a value")
		}
		return nil
	},
	RunE: runSettings,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
}

func runSettings(cmd *cobra.Command, args []string) error {
	store, err := settings.OpenFile(settingsPath)
	if err != nil {
		return err
	}
	if len(args) == 2 {
		key, err := settings.ParseKey(args[0])
		if err != nil {
			return err
		}
		if err := store.Set(key, parseValue(args[1])); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(store.Config(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// parseValue turns a command line value into a bool or number when it
// looks like one.
func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
