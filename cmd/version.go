package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags "-X gainscan/cmd.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gainscan version and its dependencies",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gainscan %s (%s, %s/%s)\n",
			Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, dep := range info.Deps {
				fmt.Printf("  %s %s\n", dep.Path, dep.Version)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
