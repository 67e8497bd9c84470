// =============================================================================
// LOGS COMMANDS - INSPECT A RUNNING DAEMON OVER THE ADMIN API
// =============================================================================
//
// USAGE:
//   gdplogd logs list
//   gdplogd logs show   <log>
//   gdplogd logs read   <log> <recno>
//   gdplogd logs at     <log> <RFC3339 time>
//   gdplogd status
//
// FLAGS:
//   --server, -s    Admin API URL (env: GDPLOGD_SERVER)
//   --output, -o    table, json or yaml
//   --timeout       Request timeout
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/cli"
)

var (
	serverFlag  string
	outputFlag  string
	timeoutFlag time.Duration

	client    *cli.Client
	formatter *cli.Formatter
)

var logsCmd = &cobra.Command{
	Use:               "logs",
	Short:             "Inspect logs on a running daemon",
	PersistentPreRunE: initializeClient,
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all logs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()
		resp, err := client.ListLogs(ctx)
		if err != nil {
			return err
		}
		return formatter.FormatLogs(resp)
	},
}

var logsShowCmd = &cobra.Command{
	Use:   "show <log>",
	Short: "Show stats and metadata of a log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()
		info, err := client.DescribeLog(ctx, args[0])
		if err != nil {
			return err
		}
		return formatter.FormatLogInfo(info)
	},
}

var logsReadCmd = &cobra.Command{
	Use:   "read <log> <recno>",
	Short: "Read one record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recno, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil || recno == 0 {
			return fmt.Errorf("invalid record number %q", args[1])
		}
		ctx, cancel := getContext()
		defer cancel()
		rec, err := client.ReadRecord(ctx, args[0], recno)
		if err != nil {
			return err
		}
		return formatter.FormatRecord(rec)
	},
}

var logsAtCmd = &cobra.Command{
	Use:   "at <log> <time>",
	Short: "Find the record in effect at a time (RFC 3339)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := time.Parse(time.RFC3339Nano, args[1])
		if err != nil {
			return fmt.Errorf("invalid time: %w", err)
		}
		ctx, cancel := getContext()
		defer cancel()
		res, err := client.FindByTime(ctx, args[0], t)
		if err != nil {
			return err
		}
		return formatter.FormatTimeLookup(res)
	},
}

var statusCmd = &cobra.Command{
	Use:               "status",
	Short:             "Show readiness of a running daemon",
	Args:              cobra.NoArgs,
	PersistentPreRunE: initializeClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()
		resp, err := client.Ready(ctx)
		if err != nil {
			return err
		}
		return formatter.FormatReady(resp)
	},
}

func init() {
	for _, c := range []*cobra.Command{logsCmd, statusCmd} {
		c.PersistentFlags().StringVarP(&serverFlag, "server", "s", "",
			"Admin API URL (env: "+cli.EnvServer+")")
		c.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table",
			"Output format: table, json, yaml")
		c.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 30*time.Second,
			"Request timeout")
	}

	logsCmd.AddCommand(logsListCmd, logsShowCmd, logsReadCmd, logsAtCmd)
	rootCmd.AddCommand(logsCmd, statusCmd)
}

// initializeClient sets up the HTTP client and formatter before each
// inspection command.
func initializeClient(cmd *cobra.Command, args []string) error {
	cfg := cli.DefaultClientConfig()
	switch {
	case serverFlag != "":
		cfg.ServerURL = serverFlag
	case os.Getenv(cli.EnvServer) != "":
		cfg.ServerURL = os.Getenv(cli.EnvServer)
	}
	cfg.Timeout = timeoutFlag
	client = cli.NewClient(cfg)

	format, err := cli.ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	formatter = cli.NewFormatter(format)
	formatter.SetWriter(cmd.OutOrStdout())
	return nil
}

// getContext returns a context with the request timeout.
func getContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeoutFlag)
}
