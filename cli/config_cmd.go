package cli

import (
	"fmt"

	"github.com/lfkeitel/stftpu/internal"
	"github.com/spf13/cobra"
)

func ConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stftpu configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(configInitCommand())
	return cmd
}

func configInitCommand() *cobra.Command {
	var target string
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				saved string
				err   error
			)
			switch target {
			case "client":
				cfg, loadErr := internal.LoadClientConfig("")
				if loadErr != nil {
					return loadErr
				}
				saved, err = cfg.Save(path)
			case "server":
				cfg, loadErr := internal.LoadServerConfig("")
				if loadErr != nil {
					return loadErr
				}
				saved, err = cfg.Save(path)
			default:
				return fmt.Errorf("--target must be either client or server")
			}
			if err != nil {
				return err
			}
			internal.Info("configuration written", internal.Fields{
				internal.ConfigPath: saved,
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "client", "Which config to write: client or server")
	cmd.Flags().StringVar(&path, "path", "", "Where to write the config, defaults to ~/.stftpu")
	return cmd
}
