package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lfkeitel/stftpu/internal"
	"github.com/lfkeitel/stftpu/internal/storage"
	"github.com/lfkeitel/stftpu/tftp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type ServerOpts struct {
	configPath     string
	rootDir        string
	port           int
	allowDelete    bool
	disableWrite   bool
	disableCreate  bool
	allowOverwrite bool
	strict         bool
	maxSessions    int
	metricsAddr    string
}

func ServerCommand() *cobra.Command {
	var opts ServerOpts

	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"s", "serve"},
		Short:   "Run a TFTP server",
		Long:    "Serve files from a root directory until interrupted.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadServerConfig(opts.configPath)
			if err != nil {
				return err
			}
			applyServerFlags(cmd, cfg, &opts)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("log-level") {
				if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
					internal.Warn("invalid log level in server config, defaulting to info", internal.Fields{
						internal.FieldError: err.Error(),
					})
				}
			}
			cmd.SilenceUsage = true

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "server-config", "", "Path to server config file (TOML)")
	cmd.Flags().StringVar(&opts.rootDir, "root", ".", "Server root")
	cmd.Flags().IntVar(&opts.port, "port", internal.DefaultTFTPPort, "UDP port to listen on")
	cmd.Flags().BoolVar(&opts.allowDelete, "allow-delete", false, "Allow clients to delete files")
	cmd.Flags().BoolVar(&opts.disableWrite, "nowrite", false, "Disable writing any files")
	cmd.Flags().BoolVar(&opts.disableCreate, "nocreate", false, "Disable creation of new files")
	cmd.Flags().BoolVar(&opts.allowOverwrite, "ow", false, "Allow overwriting existing files")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Reject clients wanting to use mail or unknown modes")
	cmd.Flags().IntVar(&opts.maxSessions, "max-sessions", 0, "Maximum concurrent transfers, 0 for no limit")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Address to serve prometheus metrics on, empty to disable")
	return cmd
}

// applyServerFlags overrides config file values with flags set on the command line.
func applyServerFlags(cmd *cobra.Command, cfg *internal.ServerConfig, opts *ServerOpts) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.RootDir = opts.rootDir
	}
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("allow-delete") {
		cfg.AllowDelete = opts.allowDelete
	}
	if flags.Changed("nowrite") {
		cfg.DisableWrite = opts.disableWrite
	}
	if flags.Changed("nocreate") {
		cfg.DisableCreate = opts.disableCreate
	}
	if flags.Changed("ow") {
		cfg.AllowOverwrite = opts.allowOverwrite
	}
	if flags.Changed("strict") {
		cfg.Strict = opts.strict
	}
	if flags.Changed("max-sessions") {
		cfg.MaxSessions = opts.maxSessions
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
}

func runServer(ctx context.Context, cfg *internal.ServerConfig) error {
	var storeOptions []storage.Option
	if cfg.DisableCreate {
		storeOptions = append(storeOptions, storage.WithDisableCreate)
	}
	if cfg.AllowOverwrite {
		storeOptions = append(storeOptions, storage.WithAllowOverwrite)
	}
	store, err := storage.NewDir(cfg.RootDir, storeOptions...)
	if err != nil {
		return err
	}

	metrics := tftp.NewMetrics("")
	serverOptions := []tftp.ServerOption{
		tftp.WithMaxSessions(cfg.MaxSessions),
		tftp.WithMetrics(metrics),
	}
	if cfg.AllowDelete {
		serverOptions = append(serverOptions, tftp.WithAllowDelete)
	}
	if cfg.DisableWrite {
		serverOptions = append(serverOptions, tftp.WithDisableWrite)
	}
	if cfg.Strict {
		serverOptions = append(serverOptions, tftp.WithStrictMode)
	}
	srv := tftp.NewServer(store, serverOptions...)

	internal.Info("starting tftp server", internal.Fields{
		internal.FieldRoot: store.Root(),
		internal.FieldPort: cfg.Port,
		"server_id":        cfg.ServerId,
		"allow_delete":     cfg.AllowDelete,
		"disable_write":    cfg.DisableWrite,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Port))
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr, metrics)
		})
	}

	err = g.Wait()
	internal.Info("server stopped", internal.Fields{})
	return err
}

func serveMetrics(ctx context.Context, addr string, metrics *tftp.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	internal.Info("serving metrics", internal.Fields{
		"metrics_addr": addr,
	})
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
