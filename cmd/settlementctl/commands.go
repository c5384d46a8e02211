package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"marketplace-settlement/app"
	"marketplace-settlement/db"
	"marketplace-settlement/http/middleware"
	"marketplace-settlement/services"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the settlement tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := db.Migrate(ctx, a.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	var (
		xlsxPath  string
		bookingID string
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check bookings, enrollments and payments for drift",
		Long: `Check bookings, enrollments and payments for drift.

Examples:
  settlementctl reconcile
  settlementctl reconcile --xlsx report.xlsx
  settlementctl reconcile --booking bk-42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if bookingID != "" {
					check, err := a.Validator.ValidateBooking(ctx, bookingID)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), check)
				}

				report, err := a.Validator.ValidateConsistency(ctx)
				if err != nil {
					return err
				}
				if xlsxPath != "" {
					if err := writeReport(ctx, a.Exporter, xlsxPath, report); err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", xlsxPath)
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also write the report as a spreadsheet")
	cmd.Flags().StringVar(&bookingID, "booking", "", "check a single booking")
	return cmd
}

func writeReport(ctx context.Context, x *services.ReportExporter, path string, report *services.ConsistencyReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := x.Export(ctx, f, report); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func healCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Move inconsistent bookings to the status their payment implies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Healer.Heal(ctx, dryRun)
				if err != nil {
					return err
				}
				if dryRun {
					fmt.Fprintln(cmd.ErrOrStderr(), "Dry run - no changes made")
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without writing")
	return cmd
}

func remindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Send due payment reminders once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Reminders.SendReminders(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [payment-id]",
		Short: "List reminders sent for a payment, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				history, err := a.Reminders.ReminderHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), history)
			})
		},
	}
}

func importCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import [file.xlsx]",
		Short: "Settle offline payment outcomes from a spreadsheet",
		Long: `Settle offline payment outcomes from a spreadsheet.

The first sheet needs enrollment_id, institution_id and disposition columns;
payment_id, amount, currency, method, external_ref, failure_reason,
refund_amount and original_external_ref are optional.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			outcomes, rowErrs, err := services.ParseOutcomesSheet(f)
			if err != nil {
				return err
			}
			for _, re := range rowErrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "row %d skipped: %s\n", re.Row, re.Error)
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d outcomes parsed, %d rows skipped\n", len(outcomes), len(rowErrs))
				return nil
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return printJSON(cmd.OutOrStdout(), services.ImportOutcomes(ctx, a.Settlement, outcomes))
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only parse the sheet")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject       string
		role          string
		institutionID string
		ttl           time.Duration
		secret        string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			tok, err := middleware.SignToken(secret, services.Actor{
				ID:            subject,
				Role:          role,
				InstitutionID: institutionID,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "actor id")
	cmd.Flags().StringVar(&role, "role", services.RoleAdmin, "ADMIN or INSTITUTION")
	cmd.Flags().StringVar(&institutionID, "institution", "", "institution id for INSTITUTION tokens")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default $JWT_SECRET)")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
