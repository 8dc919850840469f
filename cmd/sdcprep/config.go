package main

import (
	"fmt"

	"github.com/carbocation/sdcprep/config"
	"github.com/spf13/cobra"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Long: `Print the configuration that results from the defaults, the --config
file and SDCPREP_<SECTION>_<KEY> environment variables. The output can be
edited and passed back with --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{ConfigFile: a.configFile})
			if err != nil {
				return err
			}

			b, err := cfg.Dump()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(b))

			return nil
		},
	})

	return cmd
}
