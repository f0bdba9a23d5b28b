package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"feegowsync/internal/engine"
)

var (
	formatFlag = commandLineFlag{
		name:         "format",
		shorthand:    "f",
		defaultValue: "yaml",
		usage:        "output format: yaml, json or names",
	}
	bindModeFlag = commandLineFlag{
		name:  "mode",
		usage: "show the table as bound to a batch with this write mode",
	}
)

func cmdResources() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "resources [flags]",
			Short: "Print the Feegow resource table handed to the engine",
			Args:  cobra.NoArgs,
		},
		[]commandLineFlag{formatFlag, bindModeFlag},
		runResources,
	)
}

func runResources(c *Context, _ []string) error {
	table, err := c.loadResources()
	if err != nil {
		return err
	}

	flags := c.Command.Flags()
	if modeArg, _ := flags.GetString(bindModeFlag.name); modeArg != "" {
		mode, err := engine.ParseWriteMode(modeArg)
		if err != nil {
			return fmt.Errorf("--mode: %w", err)
		}
		table = &engine.Table{Client: table.Client, Resources: table.Bind(mode)}
	}

	w := c.Command.OutOrStdout()
	format, _ := flags.GetString(formatFlag.name)
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(table); err != nil {
			return fmt.Errorf("encode resources: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	case "names":
		for _, name := range table.Names() {
			fmt.Fprintln(w, name)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want yaml, json or names)", format)
	}
}
