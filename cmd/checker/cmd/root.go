// =============================================================================
// ROOT COMMAND - FLAGS AND THE CHECK/REBUILD RUN
// =============================================================================
//
// FLAGS:
//   -D, --debug             Debug spec, e.g. "info,checker=debug"
//   -r, --rebuild           Rebuild indices instead of checking them
//   --root                  Data root (default: data_dir from config)
//   --config                gdplogd config file to take data_dir from
//   --force                 Run even if gdplogd holds the data-root lock
//   --remove-orphans        With -r, delete orphan segments
//   --metrics-textfile      Write run metrics for node_exporter
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/checker"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/config"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/logging"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/metrics"
)

// Version information (set at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// errChecksFailed carries exit status 1 after the reports are printed.
var errChecksFailed = errors.New("one or more logs failed")

var (
	debugFlag           string
	rebuildFlag         bool
	rootFlag            string
	configFlag          string
	forceFlag           bool
	removeOrphansFlag   bool
	metricsTextfileFlag string
)

var rootCmd = &cobra.Command{
	Use:   "checker [-D debug-spec] [-r] log-name ...",
	Short: "Check or rebuild the indices of gdplogd logs",
	Long: `checker compares each log's record-number index (RIDX) and timestamp
index (TIDX) with the records in its segment files, which are the source
of truth. With -r it writes fresh indices and installs any that differ,
keeping the old files as timestamped .bak backups.

A log may be named by its 43-character printable name, by 64 hex digits,
or by the human-readable name it was created with.`,
	Args:          cobra.MinimumNArgs(1),
	Version:       Version,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&debugFlag, "debug", "D", "",
		"Debug spec: level or pattern=level[,...] (env: "+config.EnvDebug+")")
	f.BoolVarP(&rebuildFlag, "rebuild", "r", false,
		"Rebuild indices instead of checking them")
	f.StringVar(&rootFlag, "root", "",
		"Data root (env: "+config.EnvDataDir+")")
	f.StringVar(&configFlag, "config", "",
		"gdplogd config file to read data_dir from")
	f.BoolVar(&forceFlag, "force", false,
		"Run even if the data root is locked by gdplogd")
	f.BoolVar(&removeOrphansFlag, "remove-orphans", false,
		"With --rebuild, delete orphan segments")
	f.StringVar(&metricsTextfileFlag, "metrics-textfile", "",
		"Write Prometheus metrics for this run to a textfile")

	rootCmd.SetVersionTemplate(fmt.Sprintf("checker %s (commit %s)\n", Version, GitCommit))
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	if rootFlag != "" {
		cfg.DataDir = rootFlag
	}
	if debugFlag != "" {
		cfg.Debug = debugFlag
	}
	if removeOrphansFlag && !rebuildFlag {
		return fmt.Errorf("--remove-orphans requires --rebuild")
	}

	spec, err := logging.ParseDebugSpec(cfg.Debug)
	if err != nil {
		return fmt.Errorf("invalid debug spec: %w", err)
	}
	logger := logging.New(os.Stderr, logging.Options{Spec: spec})

	var reg *metrics.Registry
	if metricsTextfileFlag != "" {
		mc := metrics.DefaultConfig()
		mc.Namespace = cfg.Metrics.Namespace
		mc.IncludeGoCollector = false
		mc.IncludeProcessCollector = false
		reg = metrics.Init(mc)
	}

	c := checker.New(checker.Options{
		Root:          cfg.DataDir,
		Rebuild:       rebuildFlag,
		RemoveOrphans: removeOrphansFlag,
		Force:         forceFlag,
		Logger:        logger,
	})
	if err := c.Lock(); err != nil {
		return err
	}
	defer c.Unlock()

	reports := c.Run(args, cmd.OutOrStdout())

	if reg != nil {
		if err := reg.WriteTextfile(metricsTextfileFlag); err != nil {
			logger.Error("failed to write metrics textfile", "path", metricsTextfileFlag, "error", err)
		}
	}

	if checker.ExitCode(reports) != 0 {
		return errChecksFailed
	}
	return nil
}
