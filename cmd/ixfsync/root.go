package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ixf-sync/pkg/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	SeedPath   string
	LogLevel   string
	Format     string // "json" | "text"

	// loadConfig is swapped in tests.
	loadConfig func(path string) (config.Config, error)
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the ixfsync command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{loadConfig: config.Load}

	cmd := &cobra.Command{
		Use:   "ixfsync",
		Short: "Reconcile peering records with IX-F member exports",
		Long: `ixfsync fetches the IX-F member export of every exchange LAN, compares it
with the registered peering records and applies or proposes the changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("IXF_CONFIG"), "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.SeedPath, "seed", "", "load registry fixtures before running")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewRollbackCommand(opts))
	cmd.AddCommand(NewResendEmailsCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewHashPasswordCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

func (o *RootOptions) config() (config.Config, error) {
	cfg, err := o.loadConfig(o.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	return cfg, nil
}

// output writes v as indented JSON, or calls text for the text format.
func (o *RootOptions) output(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
