package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	isBool                               bool
	required                             bool
}

var (
	workspaceFlag = commandLineFlag{
		name:         "workspace",
		shorthand:    "w",
		defaultValue: ".",
		usage:        "workspace root holding .feegowsync/ state and artifacts/",
	}
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is <workspace>/feegowsync.yaml, then $XDG_CONFIG_HOME/feegowsync/feegowsync.yaml)",
	}
	envFileFlag = commandLineFlag{
		name:  "env-file",
		usage: "dotenv file with credentials (default is <workspace>/.env)",
	}
	debugFlag = commandLineFlag{
		name:   "debug",
		usage:  "log at debug level",
		isBool: true,
	}
	logFormatFlag = commandLineFlag{
		name:  "log-format",
		usage: "log format: text or json",
	}
	quietFlag = commandLineFlag{
		name:      "quiet",
		shorthand: "q",
		usage:     "do not log to stderr",
		isBool:    true,
	}

	resetStateFlag = commandLineFlag{
		name:   "reset-state",
		usage:  "treat an unreadable watermark as absent and start with an initial load",
		isBool: true,
	}
	runIDFlag = commandLineFlag{
		name:  "run-id",
		usage: "run ID to record (default is a new UUID)",
	}
	asOfFlag = commandLineFlag{
		name:  "as-of",
		usage: "plan as if today were this date (YYYY-MM-DD)",
	}
)

var globalFlags = []commandLineFlag{workspaceFlag, configFlag, envFileFlag, debugFlag, logFormatFlag, quietFlag}

func initGlobalFlags(cmd *cobra.Command) {
	for _, flag := range globalFlags {
		addFlag(cmd, flag, true)
	}
}

func initFlags(cmd *cobra.Command, flags ...commandLineFlag) {
	for _, flag := range flags {
		addFlag(cmd, flag, false)
	}
}

func addFlag(cmd *cobra.Command, flag commandLineFlag, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	if flag.isBool {
		flags.BoolP(flag.name, flag.shorthand, flag.defaultValue == "true", flag.usage)
	} else {
		flags.StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
	}
	if flag.required {
		if err := cmd.MarkFlagRequired(flag.name); err != nil {
			fmt.Printf("failed to mark flag %s as required: %v\n", flag.name, err)
		}
	}
}
