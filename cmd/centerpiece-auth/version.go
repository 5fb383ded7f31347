package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags; "dev" otherwise.
var version = "dev"

func commandVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("centerpiece-auth Version: %s\nGo Version: %s\nGo OS/ARCH: %s %s\n",
				version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
