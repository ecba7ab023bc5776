// Package cmd provides urfave/cli commands for the racecm binary.
package cmd

import "github.com/urfave/cli/v2"

var (
	// ConfigFlag points run at a racecm.yaml file; omitted, run uses
	// cliconfig.Default().
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a racecm.yaml configuration file",
	}

	// DurationFlag bounds how long run drives the demo channel before
	// deactivating and exiting.
	DurationFlag = &cli.DurationFlag{
		Name:  "duration",
		Usage: "How long to run the demo channel before shutting down",
		Value: defaultRunDuration,
	}

	// TUIFlag enables the Bubble Tea live inspect view.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show a live Bubble Tea inspect view while running",
	}

	// NoColorFlag is registered on run but not read by it: output
	// colouring is the same with or without it.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Accepted; has no effect on output",
	}
)
