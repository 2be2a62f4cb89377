package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"ixf-sync/pkg/model"
)

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "rollback <import-log-id>",
		Short: "Revert the record changes of an import log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid import log id %q", args[0])
			}
			a, err := newApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.importer.Rollback(cmd.Context(), actor, uint(id))
			if err != nil {
				return err
			}
			return rootOpts.output(cmd.OutOrStdout(), out, func(w io.Writer) {
				for _, e := range out {
					state := "kept"
					if e.Reverted {
						state = "reverted"
					}
					fmt.Fprintf(w, "record %d %s: %s", e.RecordID, e.Action, state)
					if e.Error != "" {
						fmt.Fprintf(w, " (%s)", e.Error)
					}
					fmt.Fprintln(w)
				}
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "name recorded in the audit log")
	return cmd
}

// NewResendEmailsCommand creates the resend-emails command.
func NewResendEmailsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resend-emails",
		Short: "Send logged emails that could not be delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.cfg.Notify.ResendFailedEmails || a.cfg.Notify.MailDebug {
				return errors.New("resending needs notify.resend_failed_emails and mail debug off")
			}
			sent, err := a.importer.ResendEmails(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.output(cmd.OutOrStdout(), sent, func(w io.Writer) {
				fmt.Fprintf(w, "%d emails resent\n", len(sent))
			})
		},
	}
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load networks, exchanges and peering records from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			sum, err := a.seed(args[0])
			if err != nil {
				return err
			}
			return rootOpts.output(cmd.OutOrStdout(), sum, func(w io.Writer) {
				fmt.Fprintf(w, "%d networks, %d exchanges, %d lans, %d records\n", sum.Networks, sum.Exchanges, sum.LANs, sum.Records)
			})
		},
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			if cfg.Store != "sql" {
				return errors.New("migrate needs store: sql")
			}
			gdb, err := openDB(cfg.Database)
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s database\n", cfg.Database.Driver)
			return nil
		},
	}
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent administrative operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			entries, err := a.store.ListAudit(limit)
			if err != nil {
				return err
			}
			return rootOpts.output(cmd.OutOrStdout(), entries, func(w io.Writer) { printAudit(w, entries) })
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries, 0 for all")
	return cmd
}

func printAudit(w io.Writer, entries []model.AuditEntry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s %-8s %-16s %s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Actor, e.Action, e.Target, e.Detail)
	}
}
