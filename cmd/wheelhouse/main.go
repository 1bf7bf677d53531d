package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "wheelhouse"
	version = "v1.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	var configPath string
	var portfolioPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Risk-aware screening and sizing for systematic options selling",
		Version: version,
		Long: `Wheelhouse screens covered-call and cash-secured-put candidates through
hard gates and soft filters, blends quant, interpretive, and portfolio-risk
scores into a decision, and sizes approved trades against regime-tightened
portfolio limits before emitting order intents.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("unknown log level %q: %w", logLevel, err)
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&portfolioPath, "portfolio", "", "Path to portfolio state JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")

	screenCmd := &cobra.Command{
		Use:   "screen",
		Short: "Screen, score, and size a batch of candidates",
		Long:  "Runs the full pipeline over a candidate file: gates, interpretive assessment, decision scoring, position sizing, and capacity commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			candidatesPath, _ := cmd.Flags().GetString("candidates")
			return runScreen(cmd.Context(), configPath, portfolioPath, candidatesPath)
		},
	}
	screenCmd.Flags().String("candidates", "", "Path to candidates JSON file (required)")
	_ = screenCmd.MarkFlagRequired("candidates")

	riskCmd := &cobra.Command{
		Use:   "risk",
		Short: "Recompute and print the portfolio risk snapshot",
		Long:  "Recomputes aggregate Greeks, concentration, VaR, and ES from the portfolio state and prints per-limit headroom under the current regime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRisk(cmd.Context(), configPath, portfolioPath)
		},
	}

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the recurring risk jobs in the foreground",
		Long:  "Starts the risk refresh, trigger sweep, and correlation jobs without the HTTP server; directives are logged as they fire",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context(), configPath, portfolioPath)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops HTTP server and job scheduler",
		Long:  "Starts the HTTP surface (/health, /metrics, /risk, /decisions) alongside the recurring risk refresh, trigger sweep, and correlation jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, portfolioPath)
		},
	}

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run scheduled maintenance jobs",
	}

	jobsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured jobs with their cadence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsList(configPath)
		},
	}

	jobsRunCmd := &cobra.Command{
		Use:   "run [job-name]",
		Short: "Execute one job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsRun(cmd.Context(), configPath, portfolioPath, args[0])
		},
	}

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRunCmd)

	rootCmd.AddCommand(screenCmd)
	rootCmd.AddCommand(riskCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
