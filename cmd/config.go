package cmd

import (
	"fmt"

	"github.com/lkarlslund/msgrelay/pkg/config"
	"github.com/spf13/cobra"
)

var configWritePath string

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or write a starter file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configWritePath != "" {
				if err := config.Save(configWritePath, config.NewDefaultConfig()); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configWritePath)
				return nil
			}
			cfg, err := loadEffectiveConfig(cmd)
			if err != nil {
				return err
			}
			b, err := config.MarshalTOML(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	addConfigFlags(configCmd)
	configCmd.Flags().StringVar(&configWritePath, "write", "", "Write a default config file to this path and exit")
	rootCmd.AddCommand(configCmd)
}
