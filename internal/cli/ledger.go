package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/finly-network/finly/internal/daemon"
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerProfileCmd)

	ledgerListCmd.Flags().IntP("limit", "n", 20, "Maximum records to show (0 for all)")
	ledgerListCmd.Flags().Bool("json", false, "Print records as JSON")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the interaction ledger",
}

// ─── ledger list ────────────────────────────────────────────────────────────

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger records, newest first",
	Args:  cobra.NoArgs,
	RunE:  runLedgerList,
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := daemon.Build(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	recs, err := app.Records(cmd.Context())
	if err != nil {
		return err
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "Ledger is empty.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tSTRATEGY\tSTATUS\tCLIENTS")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Timestamp, r.Strategy, r.OutcomeStatus, strings.Join(r.Clients, ", "))
	}
	return tw.Flush()
}

// ─── ledger profile ─────────────────────────────────────────────────────────

var ledgerProfileCmd = &cobra.Command{
	Use:   "profile CLIENT",
	Short: "Show a client's resolved trust profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerProfile,
}

func runLedgerProfile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := daemon.Build(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	p, err := app.Runner.Profile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
