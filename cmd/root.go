package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luma/emuconsole/cmd/gen"
	"github.com/luma/emuconsole/internal/meta"
)

var RootCmd = &cobra.Command{
	Use:   "emuconsole",
	Short: "Emulator console channel between a core and its UIs",
	Long: `emuconsole runs the console channel of an emulator core, or attaches a
headless UI to one.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(meta.GetInfo())
	},
}

func init() {
	RootCmd.AddCommand(CoreCmd)
	RootCmd.AddCommand(UICmd)
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
