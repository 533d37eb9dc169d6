package cmd

import (
	"fmt"

	"github.com/lkarlslund/msgrelay/pkg/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print msgrelay version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed("msgrelay"))
		},
	})
}
