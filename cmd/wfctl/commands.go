package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/calendar"
	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/config"
	infracal "github.com/garyjia/wfm-approvals/internal/infrastructure/calendar"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/definitions"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/export"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/persistence/repository"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/wfm-approvals/pkg/database"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "wfctl",
		Short:         "Administer approval workflow definitions and data",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml",
		"configuration file; empty uses defaults and WFM_* environment variables")

	root.AddCommand(
		newValidateCmd(),
		newDeadlineCmd(opts),
		newExportHistoryCmd(opts),
	)
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Parse and validate every workflow definition in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "configs/workflows"
			if len(args) == 1 {
				dir = args[0]
			}

			files, err := definitions.LoadDir(dir)
			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s v%d (%s)\n", f.Definition.Name, f.Definition.Version, f.Path)
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
				return errors.New("validation failed")
			}
			if len(files) == 0 {
				return fmt.Errorf("no workflow definitions found in %s", dir)
			}
			return nil
		},
	}
}

type deadlineOptions struct {
	start             string
	minutes           int
	businessHoursOnly bool
	excludeWeekends   bool
	excludeHolidays   bool
}

func newDeadlineCmd(root *rootOptions) *cobra.Command {
	opts := &deadlineOptions{}

	cmd := &cobra.Command{
		Use:   "deadline",
		Short: "Compute a due date on the configured business calendar",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}

			static, err := infracal.NewStaticCalendar(cfg.Calendar.Config)
			if err != nil {
				return err
			}
			svc := calendar.NewService(static, zap.NewNop(), calendar.WithLocation(static.Location()))

			start := time.Now().UTC()
			if opts.start != "" {
				if start, err = time.Parse(time.RFC3339, opts.start); err != nil {
					return fmt.Errorf("invalid --start, expected RFC3339: %w", err)
				}
			}

			due, err := svc.ComputeDeadline(context.Background(), start, opts.minutes, calendar.Options{
				BusinessHoursOnly: opts.businessHoursOnly,
				ExcludeWeekends:   opts.excludeWeekends,
				ExcludeHolidays:   opts.excludeHolidays,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), due.In(static.Location()).Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.start, "start", "", "start time in RFC3339 (default now)")
	cmd.Flags().IntVar(&opts.minutes, "minutes", 0, "timeout in minutes")
	cmd.Flags().BoolVar(&opts.businessHoursOnly, "business-hours", true, "count only working hours")
	cmd.Flags().BoolVar(&opts.excludeWeekends, "exclude-weekends", true, "skip non-working weekdays")
	cmd.Flags().BoolVar(&opts.excludeHolidays, "exclude-holidays", true, "skip holidays")
	_ = cmd.MarkFlagRequired("minutes")
	return cmd
}

type exportOptions struct {
	workflow string
	since    string
	until    string
	out      string
}

func newExportHistoryCmd(root *rootOptions) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export-history",
		Short: "Write the audit history to an xlsx workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}

			filter := port.HistoryFilter{Workflow: opts.workflow}
			if filter.Since, err = parseOptionalTime("since", opts.since); err != nil {
				return err
			}
			if filter.Until, err = parseOptionalTime("until", opts.until); err != nil {
				return err
			}

			logger := zap.NewNop()
			conn, err := database.New(database.Config{Path: cfg.Database.Path, MaxOpenConns: 1}, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := database.NewMigrator(conn, logger).Up(); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			history := repository.NewHistoryRepository(sqlite.NewDB(conn.DB, logger), logger)
			entries, err := history.List(context.Background(), filter)
			if err != nil {
				return err
			}

			f, err := os.Create(opts.out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", opts.out, err)
			}
			if err := export.NewHistoryExporter(logger).Write(f, entries); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", len(entries), opts.out)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.workflow, "workflow", "", "only entries of this workflow")
	cmd.Flags().StringVar(&opts.since, "since", "", "only entries at or after this RFC3339 time")
	cmd.Flags().StringVar(&opts.until, "until", "", "only entries before this RFC3339 time")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "history.xlsx", "output file")
	return cmd
}

func parseOptionalTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s, expected RFC3339: %w", name, err)
	}
	return t.UTC(), nil
}
