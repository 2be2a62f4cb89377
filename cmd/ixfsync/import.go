package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"ixf-sync/pkg/ixf"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Commit         bool
	All            bool
	ASN            uint32
	CacheOnly      bool
	SkipImport     bool
	ResetHints     bool
	ResetDismisses bool
	ResetTickets   bool
	ResetEmail     bool
	Actor          string
}

func (o *ImportOptions) reset() ixf.ResetOptions {
	return ixf.ResetOptions{Hints: o.ResetHints, Dismisses: o.ResetDismisses, Tickets: o.ResetTickets, Email: o.ResetEmail}
}

func (o *ImportOptions) resetAny() bool {
	return o.ResetHints || o.ResetDismisses || o.ResetTickets || o.ResetEmail
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import [exchange-lan-id...]",
		Short: "Import IX-F member exports",
		Long: `Import the IX-F member export of the given exchange LANs, or of every LAN
that is ready for import with --all.

Without --commit the run is a preview: nothing is saved and nothing is sent.

Examples:
  ixfsync import 12
  ixfsync import 12 --commit --asn 64500
  ixfsync import --all --commit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Commit, "commit", false, "save the outcome instead of previewing it")
	cmd.Flags().BoolVar(&opts.All, "all", false, "import every exchange LAN that is ready for import")
	cmd.Flags().Uint32Var(&opts.ASN, "asn", 0, "only process this network")
	cmd.Flags().BoolVar(&opts.CacheOnly, "cache", false, "use the cached export instead of downloading it")
	cmd.Flags().BoolVar(&opts.SkipImport, "skip-import", false, "only fetch and validate the export")
	cmd.Flags().BoolVar(&opts.ResetHints, "reset-hints", false, "delete the proposals of the LAN first")
	cmd.Flags().BoolVar(&opts.ResetDismisses, "reset-dismisses", false, "clear dismissed proposals of the LAN first")
	cmd.Flags().BoolVar(&opts.ResetTickets, "reset-tickets", false, "forget conflict tickets first")
	cmd.Flags().BoolVar(&opts.ResetEmail, "reset-email", false, "delete the email log first")
	cmd.Flags().StringVar(&opts.Actor, "actor", "cli", "name recorded in the audit log")

	return cmd
}

func parseLANIDs(args []string) ([]uint, error) {
	ids := make([]uint, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 10, 64)
		if err != nil || v == 0 {
			return nil, fmt.Errorf("invalid exchange lan id %q", a)
		}
		ids = append(ids, uint(v))
	}
	return ids, nil
}

func runImport(opts *ImportOptions, cmd *cobra.Command, args []string) error {
	if opts.All == (len(args) > 0) {
		return errors.New("pass exchange lan ids or --all")
	}
	if opts.resetAny() && !opts.Commit {
		return errors.New("resets require --commit")
	}
	ids, err := parseLANIDs(args)
	if err != nil {
		return err
	}

	a, err := newApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	if opts.resetAny() {
		targets := ids
		if opts.All {
			lans, err := a.store.ListExchangeLANs()
			if err != nil {
				return fmt.Errorf("list exchange lans: %w", err)
			}
			targets = nil
			for _, l := range lans {
				if l.ReadyForImport() {
					targets = append(targets, l.ID)
				}
			}
		}
		for _, id := range targets {
			if err := a.importer.Reset(ctx, opts.Actor, id, opts.reset()); err != nil {
				return fmt.Errorf("reset exchange lan %d: %w", id, err)
			}
		}
	}

	runOpts := ixf.Options{Save: opts.Commit, ASN: opts.ASN, CacheOnly: opts.CacheOnly, SkipImport: opts.SkipImport}
	var results []*ixf.Result
	if opts.All {
		results, err = a.importer.UpdateAll(ctx, runOpts)
		if err != nil {
			return err
		}
	} else {
		for _, id := range ids {
			res, err := a.importer.Update(ctx, id, runOpts)
			if res == nil {
				return err
			}
			results = append(results, res)
		}
	}

	if err := opts.output(cmd.OutOrStdout(), results, func(w io.Writer) { printResults(w, results) }); err != nil {
		return err
	}
	for _, res := range results {
		if res.Error != "" {
			return fmt.Errorf("%d of %d imports failed", countFailed(results), len(results))
		}
	}
	return nil
}

func countFailed(results []*ixf.Result) int {
	n := 0
	for _, r := range results {
		if r.Error != "" {
			n++
		}
	}
	return n
}

func printResults(w io.Writer, results []*ixf.Result) {
	for _, res := range results {
		mode := "preview"
		if res.Saved {
			mode = "saved"
		}
		fmt.Fprintf(w, "exchange lan %d (%s): %d entries, %d pending", res.ExchangeLANID, mode, len(res.Log.Data), res.Pending)
		if res.ImportLogID != 0 {
			fmt.Fprintf(w, ", import log %d", res.ImportLogID)
		}
		fmt.Fprintln(w)
		for _, e := range res.Log.Data {
			addr := e.Peer.IPv4
			if e.Peer.IPv6 != "" {
				if addr != "" {
					addr += " "
				}
				addr += e.Peer.IPv6
			}
			fmt.Fprintf(w, "  AS%-10d %-16s %s  %s\n", e.Peer.ASN, e.Action, addr, e.Reason)
		}
		for _, msg := range res.Log.Errors {
			fmt.Fprintf(w, "  error: %s\n", msg)
		}
		if res.Error != "" {
			fmt.Fprintf(w, "  failed: %s\n", res.Error)
		}
	}
}
