package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/reconcile"
)

// newRunCmd reconciles a single subject and prints the report
func newRunCmd() *cobra.Command {
	var (
		subjectType string
		subjectID   string
		from        string
		to          string
		apply       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile one subject over a day window",
		Long: `Replays the raw events of one subject between --from and --to (inclusive,
UTC days) and prints the comparison report as JSON. With --apply, drifted
days are overwritten with the replayed totals and lead rollups are healed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, err := domain.ParseSubject(subjectType, subjectID)
			if err != nil {
				return err
			}
			fromDay, err := time.Parse(time.DateOnly, from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			toDay, err := time.Parse(time.DateOnly, to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			if toDay.Before(fromDay) {
				return fmt.Errorf("--to %s is before --from %s", to, from)
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.scheduler.RunWithRetry(cmd.Context(), reconcile.Request{
				Subject: subject,
				From:    fromDay,
				To:      toDay,
			})
			if err != nil {
				return err
			}

			out, err := report.JSON()
			if err != nil {
				return fmt.Errorf("failed to render report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if !apply {
				return nil
			}
			if report.Partial {
				a.log.Warn("Report is partial, snapshot corrections skipped",
					zap.String("subject", subject.String()))
			} else {
				result, err := a.corrector.Apply(cmd.Context(), report)
				if err != nil {
					return err
				}
				a.log.Info("Corrections applied",
					zap.Int("applied", result.Applied),
					zap.Int("skipped", result.Skipped),
					zap.Int("failed", result.Failed))
			}

			audit, err := a.auditor.Audit(cmd.Context(), subject)
			if err != nil {
				return err
			}
			healed, err := a.auditor.Apply(cmd.Context(), audit)
			if err != nil {
				return err
			}
			a.log.Info("Lead rollups audited",
				zap.Int("minor", audit.Summary.Minor),
				zap.Int("major", audit.Summary.Major),
				zap.Bool("healed", healed))
			return nil
		},
	}

	cmd.Flags().StringVar(&subjectType, "subject-type", "", "listing, profile or development")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "subject id")
	cmd.Flags().StringVar(&from, "from", "", "first UTC day, yyyy-mm-dd")
	cmd.Flags().StringVar(&to, "to", "", "last UTC day, yyyy-mm-dd")
	cmd.Flags().BoolVar(&apply, "apply", false, "write corrections")
	_ = cmd.MarkFlagRequired("subject-type")
	_ = cmd.MarkFlagRequired("subject-id")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

// newAllCmd runs one batch pass over every active subject
func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Reconcile every active subject once",
		Long: `Reconciles every subject with snapshots in the configured window
(RECONCILE_WINDOW_DAYS) and prints a run summary. Corrections follow
RECONCILE_APPLY_FIXES.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.scheduler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

// newScheduleCmd runs batch passes on the configured cron schedule
func newScheduleCmd() *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run reconciliation on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if schedule == "" {
				schedule = a.cfg.Reconcile.Schedule
			}
			if err := a.scheduler.Start(cmd.Context(), schedule); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan

			a.log.Info("Shutting down reconciler gracefully")
			a.scheduler.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&schedule, "cron", "", "cron expression, overrides RECONCILE_SCHEDULE")
	return cmd
}
