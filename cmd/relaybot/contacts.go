package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaybot/relaybot/pkg/cron"
	"github.com/relaybot/relaybot/pkg/storage/repository"
)

func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Inspect stored contact records",
	}
	cmd.AddCommand(newContactsListCmd())
	cmd.AddCommand(newContactsRestoreCmd())
	return cmd
}

func newContactsListCmd() *cobra.Command {
	var state string
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contact records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPathFromCmd(cmd))
			if err != nil {
				return err
			}
			store, err := openStorage(cmd.Context(), cfg, cfg.Storage.Type)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Records().LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			records, err = filterByState(records, state)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "all", "Filter by state: all|none|topic_a|topic_b|topic_c")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func newContactsRestoreCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <snapshot.json>",
		Short: "Replace the stored records with a backup snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig(configPathFromCmd(cmd))
			if err != nil {
				return err
			}
			snap, err := cron.ReadSnapshot(args[0])
			if err != nil {
				return err
			}
			if snap.Namespace != "" && snap.Namespace != cfg.RecordNamespace() {
				return fmt.Errorf("snapshot namespace %q does not match %q", snap.Namespace, cfg.RecordNamespace())
			}

			fmt.Fprintf(out, "📦 Snapshot taken %s with %d records\n", snap.TakenAt.Format(time.RFC3339), len(snap.Records))
			if !yes && !confirm(cmd.InOrStdin(), out, "This replaces the stored records. Continue? (yes/no): ") {
				fmt.Fprintln(out, "❌ Restore cancelled")
				return nil
			}

			store, err := openStorage(cmd.Context(), cfg, cfg.Storage.Type)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Records().SaveAll(cmd.Context(), snap.Records); err != nil {
				return fmt.Errorf("failed to save records: %w", err)
			}
			fmt.Fprintf(out, "✅ Restored %d records\n", len(snap.Records))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	return cmd
}

func filterByState(records []repository.ContactRecord, state string) ([]repository.ContactRecord, error) {
	if state == "" || state == "all" {
		return records, nil
	}
	want := repository.State(state)
	if state == "none" {
		want = repository.StateNone
	}
	if !want.Valid() {
		return nil, fmt.Errorf("unknown state %q", state)
	}
	out := make([]repository.ContactRecord, 0, len(records))
	for _, rec := range records {
		if rec.State == want {
			out = append(out, rec)
		}
	}
	return out, nil
}

func printRecords(w io.Writer, records []repository.ContactRecord) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "no contacts")
		return
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ContactID < records[j].ContactID })
	for _, rec := range records {
		state := string(rec.State)
		if state == "" {
			state = "none"
		}
		welcomed := "never"
		if rec.LastWelcomeAt > 0 {
			welcomed = time.Unix(rec.LastWelcomeAt, 0).UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d turns\n", rec.ContactID, state, welcomed, len(rec.History))
	}
}
