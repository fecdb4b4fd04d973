// Package cli provides the cobra command tree for the dixcover service.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the top-level command. Callers set stdout/stderr via
// cmd.SetOut / cmd.SetErr before Execute.
func NewRootCmd(logger *slog.Logger, programLevel *slog.LevelVar, getenv func(string) string) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "dixcover",
		Short: "Passive subdomain reconnaissance and liveness service",
		Long: `Dixcover discovers subdomains through passive intelligence sources
(crt.sh, AlienVault OTX, Shodan, VirusTotal), keeps a deduplicated inventory
with per-source provenance, and probes the fleet daily for HTTP liveness.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				programLevel.Set(slog.LevelDebug)
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(logger, getenv),
		newVersionCmd(),
	)

	return cmd
}
