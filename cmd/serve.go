package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lkarlslund/msgrelay/pkg/config"
	"github.com/lkarlslund/msgrelay/pkg/logutil"
	"github.com/lkarlslund/msgrelay/pkg/metrics"
	"github.com/lkarlslund/msgrelay/pkg/proxy"
	"github.com/lkarlslund/msgrelay/pkg/version"
	"github.com/spf13/cobra"
)

var (
	serveConfigPath  string
	servePort        int
	serveTargetURL   string
	serveMetricsAddr string
	serveWatchConfig bool
)

// loadEffectiveConfig layers command-line flags over file and environment.
func loadEffectiveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cmd, cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("target-url") {
		cfg.TargetAPIURL = serveTargetURL
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = serveMetricsAddr
	}
	if cmd.Flags().Changed("watch-config") {
		cfg.WatchConfig = serveWatchConfig
	}
	if rootLogLevel != "" {
		cfg.LogLevel = rootLogLevel
	}
}

func addConfigFlags(c *cobra.Command) {
	c.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "Optional TOML config path; environment variables override it")
	c.Flags().IntVar(&servePort, "port", config.DefaultPort, "Listen port (overrides PORT)")
	c.Flags().StringVar(&serveTargetURL, "target-url", "", "Backend messages endpoint (overrides TARGET_API_URL)")
	c.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Address for /metrics and /healthz, e.g. 127.0.0.1:9090 (disabled when empty)")
}

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEffectiveConfig(cmd)
			if err != nil {
				return err
			}
			if err := logutil.Configure(cfg.LogLevel); err != nil {
				return err
			}
			logger := logutil.New("serve")
			logger.Info("starting", "version", version.String(), "target", cfg.TargetAPIURL,
				"default_key", cfg.DefaultAPIKey != "", "force_default_key", cfg.ForceDefaultAPIKey,
				"default_user", cfg.DefaultUserID != "")

			var opts []proxy.Option
			if cfg.MetricsAddr != "" {
				opts = append(opts, proxy.WithMetrics(metrics.NewCollector(nil)))
			}
			srv := proxy.NewServer(cfg, opts...)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.WatchConfig {
				w := config.NewWatcher(serveConfigPath, 0, logutil.New("config"))
				go func() {
					err := w.Watch(ctx, func(next *config.Config) {
						applyFlagOverrides(cmd, next)
						next.Normalize()
						srv.Reload(next)
					})
					if err != nil {
						logger.Error("config watcher stopped", "err", err)
					}
				}()
			}

			return srv.Run(ctx)
		},
	}
	addConfigFlags(serveCmd)
	serveCmd.Flags().BoolVar(&serveWatchConfig, "watch-config", false, "Reload credential and metadata settings when the config file changes")
	rootCmd.AddCommand(serveCmd)
}
