package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// newRootCmd returns the command tree and a cleanup that closes the store
// once a command has run.
func newRootCmd() (*cobra.Command, func()) {
	var app *deps

	rootCmd := &cobra.Command{
		Use:           "lucctl",
		Short:         "Inspect and adjust LUC usage accounts",
		Long:          "lucctl works directly on the configured LUC account store: quotas, debits, credits, plans, billing cycles and exports.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			app, err = wireApp(cmd.Context())
			return err
		},
	}

	get := func() *deps { return app }
	rootCmd.AddCommand(
		newCatalogCmd(get),
		newPresetsCmd(get),
		newCreateCmd(get),
		newSummaryCmd(get),
		newQuoteCmd(get),
		newDebitCmd(get),
		newCreditCmd(get),
		newPlanCmd(get),
		newResetCmd(get),
		newHistoryCmd(get),
		newStatsCmd(get),
		newExportCmd(get),
		newImportCmd(get),
	)

	return rootCmd, func() {
		if app != nil {
			app.stop()
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
