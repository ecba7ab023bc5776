package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/racecm/types"
)

// VersionCommand reports the canonical module version.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "racecm %s (commit: %s)\n", types.Version, commit)
			return nil
		},
	}
}
