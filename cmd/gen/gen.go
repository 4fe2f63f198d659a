// Package gen holds the generator commands, run at build time rather than
// on a core.
package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:    "gen",
	Short:  "Generate documentation for emuconsole",
	Long:   `Generate documentation for emuconsole`,
	Hidden: true,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
