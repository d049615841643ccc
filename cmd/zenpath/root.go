package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "zenpath",
	Short: "zenpath executes BPMN process definitions",
	Long:  `zenpath walks BPMN process definitions, tracks the path taken through them and waits for manual and user tasks to be resolved.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		hclog.SetDefault(hclog.New(&hclog.LoggerOptions{
			Name:  "zenpath",
			Level: hclog.LevelFromString(level),
		}))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
}
