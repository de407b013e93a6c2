package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	accountdomain "github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/catalog"
)

type depsFn func() *deps

func parseUsage(args []string, description string) (accountdomain.UsageRequest, error) {
	amount, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return accountdomain.UsageRequest{}, fmt.Errorf("%w: %q", accountdomain.ErrInvalidAmount, args[2])
	}
	service, err := catalog.ParseServiceKey(args[1])
	if err != nil {
		return accountdomain.UsageRequest{}, err
	}
	return accountdomain.UsageRequest{
		UserID:      args[0],
		Service:     service,
		Amount:      amount,
		Description: description,
	}, nil
}

func newCatalogCmd(app depsFn) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List services and plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := app().catalog
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "SERVICE\tNAME\tUNIT\tOVERAGE RATE")
			for _, svc := range cat.Services() {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\n", svc.Key, svc.Name, svc.Unit, svc.OverageRate)
			}
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, "PLAN\tNAME\tMONTHLY\tOVERAGE THRESHOLD")
			for _, plan := range cat.Plans() {
				marker := ""
				if plan.ID == cat.DefaultPlanID() {
					marker = " (default)"
				}
				_, _ = fmt.Fprintf(w, "%s%s\t%s\t$%.2f\t%.0f%%\n", plan.ID, marker, plan.Name, plan.MonthlyPrice, plan.OverageThreshold*100)
			}
			return w.Flush()
		},
	}
}

func newSummaryCmd(app depsFn) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary <user>",
		Short: "Show quota usage for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := app().accounts.Summary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			return renderSummary(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func renderSummary(out io.Writer, s accountdomain.Summary) error {
	_, _ = fmt.Fprintf(out, "user: %s\nplan: %s (%s)\ncycle: %s .. %s\noverage cost: $%.2f\n\n",
		s.UserID, s.PlanName, s.PlanID,
		s.BillingCycleStart.Format("2006-01-02"), s.BillingCycleEnd.Format("2006-01-02"),
		s.TotalOverageCost)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SERVICE\tUSED\tLIMIT\tOVERAGE\tPERCENT\tSTATUS")
	for _, svc := range s.Services {
		_, _ = fmt.Fprintf(w, "%s\t%g\t%g\t%g\t%.1f%%\t%s\n", svc.Service, svc.Used, svc.Limit, svc.Overage, svc.PercentUsed, svc.Status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, warning := range s.Warnings {
		_, _ = fmt.Fprintf(out, "warning: %s\n", warning)
	}
	return nil
}

func newQuoteCmd(app depsFn) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <user> <service> <amount>",
		Short: "Preview the cost of a debit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseUsage(args, "")
			if err != nil {
				return err
			}
			quote, err := app().accounts.Quote(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), quote)
		},
	}
}

func newDebitCmd(app depsFn) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "debit <user> <service> <amount>",
		Short: "Record usage against an account",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseUsage(args, description)
			if err != nil {
				return err
			}
			result, err := app().accounts.Debit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("debit denied: %s", result.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "ledger description")
	return cmd
}

func newCreditCmd(app depsFn) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "credit <user> <service> <amount>",
		Short: "Return usage to an account",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseUsage(args, description)
			if err != nil {
				return err
			}
			result, err := app().accounts.Credit(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "ledger description")
	return cmd
}

func newPlanCmd(app depsFn) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <user> <plan>",
		Short: "Move an account to another plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := app().accounts.ChangePlan(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is now on %s\n", acct.UserID, acct.PlanName)
			return nil
		},
	}
}

func newResetCmd(app depsFn) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user>",
		Short: "Start a new billing cycle now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := app().accounts.ResetBillingCycle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s cycle ends %s\n", acct.UserID, acct.BillingCycleEnd.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
}

func newHistoryCmd(app depsFn) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "Show recent ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := app().accounts.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TIME\tTYPE\tSERVICE\tAMOUNT\tCOST\tDESCRIPTION")
			for _, e := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%g\t$%.4f\t%s\n",
					e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), e.Type, e.Service, e.Amount, e.Cost, e.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "entries to show")
	return cmd
}

func newStatsCmd(app depsFn) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <user>",
		Short: "Aggregate recent usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := app().accounts.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newExportCmd(app depsFn) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <user>",
		Short: "Export an account and its ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := accountdomain.ParseExportFormat(strings.ToLower(format))
			if err != nil {
				return err
			}
			file, err := app().accounts.Export(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(file.Body)
				return err
			}
			if err := os.WriteFile(output, file.Body, 0o600); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "json or csv")
	cmd.Flags().StringVarP(&output, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCmd(app depsFn) *cobra.Command {
	return &cobra.Command{
		Use:   "import <user> <file|->",
		Short: "Replace an account from a JSON export",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			acct, err := app().accounts.Import(cmd.Context(), args[0], data)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %s on %s\n", acct.UserID, acct.PlanName)
			return nil
		},
	}
}

func newPresetsCmd(app depsFn) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List industry presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := app().catalog
			presets := cat.Presets()
			if category != "" {
				c, err := catalog.ParsePresetCategory(category)
				if err != nil {
					return err
				}
				presets = cat.PresetsByCategory(c)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "PRESET\tNAME\tCATEGORY\tPLAN\tSERVICES")
			for _, p := range presets {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", p.ID, p.Name, p.Category, p.RecommendedPlan, len(p.Quotas))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only presets of this category")
	return cmd
}

func newCreateCmd(app depsFn) *cobra.Command {
	var preset, plan string
	cmd := &cobra.Command{
		Use:   "create <user>",
		Short: "Create an account from an industry preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := app().accounts.CreateFromPreset(cmd.Context(), args[0], preset, plan)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s created on %s tracking %d services\n", acct.UserID, acct.PlanName, len(acct.Quotas))
			return nil
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "", "preset id")
	cmd.Flags().StringVar(&plan, "plan", "", "plan id, defaults to the preset's recommended plan")
	_ = cmd.MarkFlagRequired("preset")
	return cmd
}
