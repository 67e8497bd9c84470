package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/api"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/config"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/logging"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/metrics"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// shutdownTimeout bounds draining the admin API.
const shutdownTimeout = 10 * time.Second

var (
	configFlag    string
	dataDirFlag   string
	adminAddrFlag string
	debugFlag     string
	jsonLogsFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "gdplogd",
	Short: "Log storage daemon",
	Long: `gdplogd stores append-only logs of signed records on local disk and
serves an admin HTTP API for probes, metrics and log inspection.

Configuration is read from --config (YAML), then the environment
(` + config.EnvDataDir + `, ` + config.EnvAdminAddr + `, ` + config.EnvDebug + `),
then the flags below.`,
	Args:          cobra.NoArgs,
	RunE:          runDaemon,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configFlag, "config", "c", "/etc/gdplogd.yaml", "Config file")

	rf := rootCmd.Flags()
	rf.StringVar(&dataDirFlag, "data-dir", "", "Data root (overrides config)")
	rf.StringVar(&adminAddrFlag, "admin-addr", "", `Admin API address; "off" disables it`)
	rf.StringVarP(&debugFlag, "debug", "D", "", "Debug spec: level or pattern=level[,...]")
	rf.BoolVar(&jsonLogsFlag, "json-logs", false, "Log JSON instead of text")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig applies the flags on top of config.Load and validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	switch adminAddrFlag {
	case "":
	case "off":
		cfg.Admin.Addr = ""
	default:
		cfg.Admin.Addr = adminAddrFlag
	}
	if debugFlag != "" {
		cfg.Debug = debugFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	spec, err := logging.ParseDebugSpec(cfg.Debug)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, logging.Options{Spec: spec, JSON: jsonLogsFlag})
	slog.SetDefault(logger)
	logger.Info("starting gdplogd", "version", api.Version, "data_dir", cfg.DataDir)

	mc := metrics.DefaultConfig()
	mc.Enabled = cfg.Metrics.Enabled
	mc.Namespace = cfg.Metrics.Namespace
	metrics.Init(mc)

	store, err := storage.Init(cfg.StoreOptions(logger))
	if err != nil {
		return err
	}

	var server *api.Server
	if cfg.Admin.Addr != "" {
		sc := api.DefaultServerConfig()
		sc.Addr = cfg.Admin.Addr
		sc.ReadTimeout = cfg.Admin.ReadTimeout
		sc.WriteTimeout = cfg.Admin.WriteTimeout
		server = api.NewServer(store, sc, logger)
		if err := server.Start(); err != nil {
			store.Shutdown()
			return fmt.Errorf("failed to start admin API: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	return shutdown(server, store, logger)
}

func shutdown(server *api.Server, store *storage.Store, logger *slog.Logger) error {
	var result *multierror.Error

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("admin API shutdown: %w", err))
		}
	}
	if err := store.Shutdown(); err != nil {
		result = multierror.Append(result, fmt.Errorf("store shutdown: %w", err))
	}
	if err := metrics.Shutdown(); err != nil {
		logger.Warn("metrics shutdown failed", "error", err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
