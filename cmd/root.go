package cmd

import (
	"fmt"
	"os"

	"github.com/lkarlslund/msgrelay/pkg/logutil"
	"github.com/spf13/cobra"
)

var rootLogLevel string

var rootCmd = &cobra.Command{
	Use:   "msgrelay",
	Short: "Anthropic Messages API relay",
	Long:  "Relays /v1/messages requests to an API-compatible backend, rewriting credentials and client headers.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "loglevel", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: running as root")
		}
		if rootLogLevel != "" {
			return logutil.Configure(rootLogLevel)
		}
		return nil
	}
}
