package main

import (
	"encoding/json"
	"fmt"

	"github.com/ektasahyog/sahyog-relay/config"
	"github.com/ektasahyog/sahyog-relay/globals"
	"github.com/ektasahyog/sahyog-relay/persistence"
	"github.com/ektasahyog/sahyog-relay/types"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// A very simple CLI tool for inspecting and maintaining the message store.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	if persister == nil {
		panic("no persistence configured")
	}
	defer persister.Close()

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show stored data",
		Long:  `show is for printing stored relay data.`,
	}
	var cmdShowHistory = &cobra.Command{
		Use:   "history [room]",
		Short: "Show room history",
		Long:  `show history prints the persisted messages of the given room, oldest first.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			messages, err := persister.GetRoomHistory(args[0], globalConfig.HistoryLimit())
			if err != nil {
				globals.AppLogger.Error("could not get history", "error", err)
				return
			}
			m, err := json.Marshal(messages)
			if err != nil {
				globals.AppLogger.Error("could not marshal history", "error", err)
				return
			}
			fmt.Println(string(m))
		},
	}
	var cmdShowEntries = &cobra.Command{
		Use:   "entries [room]",
		Short: "Show room history as served by the read path",
		Long:  `show entries prints the history projection (display name, text, bridge translation, formatted time) of the given room.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			messages, err := persister.GetRoomHistory(args[0], globalConfig.HistoryLimit())
			if err != nil {
				globals.AppLogger.Error("could not get history", "error", err)
				return
			}
			entries := make([]types.HistoryEntry, 0, len(messages))
			for _, msg := range messages {
				entries = append(entries, types.NewHistoryEntry(msg))
			}
			e, err := json.Marshal(entries)
			if err != nil {
				globals.AppLogger.Error("could not marshal entries", "error", err)
				return
			}
			fmt.Println(string(e))
		},
	}
	var cmdMaintain = &cobra.Command{
		Use:   "maintain",
		Short: "Run store maintenance",
		Long:  `maintain runs the backend-specific housekeeping (compaction etc.) once.`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := persister.Maintain(); err != nil {
				globals.AppLogger.Error("maintenance failed", "error", err)
				return
			}
			fmt.Println("ok")
		},
	}

	var rootCmd = &cobra.Command{Use: "sahyog-relay-admin"}
	rootCmd.AddCommand(cmdShow)
	rootCmd.AddCommand(cmdMaintain)
	cmdShow.AddCommand(cmdShowHistory, cmdShowEntries)
	rootCmd.Execute()
}
