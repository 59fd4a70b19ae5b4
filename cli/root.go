package cli

import (
	"context"
	"fmt"

	"github.com/lfkeitel/stftpu/internal"
	"github.com/spf13/cobra"
)

type ctxKey string

const clientCtxKey ctxKey = "clientConfig"

func NewRootCommand() *cobra.Command {
	var clientConfigPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "stftpu",
		Short: "stftpu is a TFTP client and server with remote delete",
		Long:  `stftpu sends, receives and deletes files over TFTP. Run "stftpu server" to serve a directory.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadClientConfig(clientConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load client config: %w", err)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
				internal.Warn("invalid log level in client config, defaulting to info", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}

			ctx := context.WithValue(cmd.Context(), clientCtxKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&clientConfigPath, "client-config", "", "Path to client config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(ServerCommand())
	rootCmd.AddCommand(SendCommand())
	rootCmd.AddCommand(ReceiveCommand())
	rootCmd.AddCommand(DeleteCommand())
	rootCmd.AddCommand(ConfigCommand())

	return rootCmd
}

// GetClientConfig returns the client config loaded by the root command.
func GetClientConfig(cmd *cobra.Command) *internal.ClientConfig {
	if v := cmd.Context().Value(clientCtxKey); v != nil {
		if cfg, ok := v.(*internal.ClientConfig); ok {
			return cfg
		}
	}
	return nil
}
