package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/calvinmclean/mixtender/config"
)

func NewConfigCommand() *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the machine config",
		Long: `Print the machine config read from --config, merged onto the defaults.

Use --defaults to print only the defaults, for example to start a new config file.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := config.Default()
			if !defaults {
				var err error
				cfg, err = config.Load(configPath)
				if err != nil {
					return err
				}
			}
			return cfg.Write(os.Stdout)
		},
	}

	cmd.Flags().BoolVar(&defaults, "defaults", false, "print the default config")

	return cmd
}
