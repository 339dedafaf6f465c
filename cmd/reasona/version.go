package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/muthuks2020/reasona"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reasona %s (%s %s/%s)\n",
				reasona.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
