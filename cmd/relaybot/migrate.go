package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/storage"
	"github.com/relaybot/relaybot/pkg/storage/repository"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import or move contact records",
	}
	cmd.AddCommand(newMigrateLegacyCmd())
	cmd.AddCommand(newMigrateStorageCmd())
	return cmd
}

// legacyRecord is one user entry of the old menu bot's messages.json.
type legacyRecord struct {
	LastWelcome int64           `json:"lastWelcome"`
	Messages    []legacyMessage `json:"messages"`
	State       *string         `json:"state"`
}

type legacyMessage struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	IsBot     bool   `json:"isBot"`
}

var legacyStates = map[string]repository.State{
	"online_teaches": repository.StateTopicA,
	"support":        repository.StateTopicB,
	"payment":        repository.StateTopicC,
}

func newMigrateLegacyCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "legacy <messages.json>",
		Short: "Import the record file of the original menu bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig(configPathFromCmd(cmd))
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read legacy file: %w", err)
			}
			imported, warnings, err := convertLegacy(data, cfg.Agent.HistoryLimit)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintf(out, "⚠️  %s\n", w)
			}
			fmt.Fprintf(out, "📦 Found %d legacy contacts\n", len(imported))
			if dryRun {
				return writeJSON(out, imported)
			}

			store, err := openStorage(cmd.Context(), cfg, cfg.Storage.Type)
			if err != nil {
				return err
			}
			defer store.Close()

			existing, err := store.Records().LoadAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load existing records: %w", err)
			}
			merged := mergeRecords(existing, imported)
			if err := store.Records().SaveAll(cmd.Context(), merged); err != nil {
				return fmt.Errorf("failed to save records: %w", err)
			}

			fmt.Fprintf(out, "✅ Imported %d contacts into %s storage (namespace %q, %d records total)\n",
				len(imported), cfg.Storage.Type, cfg.RecordNamespace(), len(merged))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the converted records instead of saving them")
	return cmd
}

// convertLegacy maps the old {user: {lastWelcome, messages, state}} document
// onto contact records. Users become "whatsapp:<jid>" ids and history is cut
// to the most recent historyLimit turns.
func convertLegacy(data []byte, historyLimit int) ([]repository.ContactRecord, []string, error) {
	var doc map[string]legacyRecord
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse legacy file: %w", err)
	}

	var warnings []string
	records := make([]repository.ContactRecord, 0, len(doc))
	for user, old := range doc {
		user = strings.TrimSpace(user)
		if user == "" {
			warnings = append(warnings, "skipped entry with empty user id")
			continue
		}

		rec := repository.NewContactRecord("whatsapp:" + legacyJID(user))
		rec.LastWelcomeAt = old.LastWelcome
		if old.State != nil && *old.State != "" {
			state, ok := legacyStates[*old.State]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("%s: unknown state %q reset to menu", user, *old.State))
			}
			rec.State = state
		}
		for _, m := range old.Messages {
			rec.PushTurn(repository.Turn{
				Timestamp:   m.Timestamp,
				Text:        m.Message,
				IsAssistant: m.IsBot,
			}, historyLimit)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ContactID < records[j].ContactID })
	return records, warnings, nil
}

// legacyJID rewrites the old client's "@c.us" user suffix to the
// "@s.whatsapp.net" form the WhatsApp channel reports.
func legacyJID(user string) string {
	if strings.HasSuffix(user, "@c.us") {
		return strings.TrimSuffix(user, "@c.us") + "@s.whatsapp.net"
	}
	if !strings.Contains(user, "@") {
		return user + "@s.whatsapp.net"
	}
	return user
}

// mergeRecords overlays incoming on existing by contact id.
func mergeRecords(existing, incoming []repository.ContactRecord) []repository.ContactRecord {
	byID := make(map[string]repository.ContactRecord, len(existing)+len(incoming))
	for _, rec := range existing {
		byID[rec.ContactID] = rec
	}
	for _, rec := range incoming {
		byID[rec.ContactID] = rec
	}
	out := make([]repository.ContactRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out
}

func newMigrateStorageCmd() *cobra.Command {
	var from, to string
	var yes bool
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Copy contact records from one storage backend to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig(configPathFromCmd(cmd))
			if err != nil {
				return err
			}
			if from == "" {
				from = cfg.Storage.Type
			}
			if from == to {
				return fmt.Errorf("source and destination are both %q", from)
			}

			fmt.Fprintf(out, "📁 Source: %s\n", from)
			fmt.Fprintf(out, "📁 Destination: %s\n", to)
			fmt.Fprintf(out, "📁 Namespace: %s\n", cfg.RecordNamespace())

			if !yes && !confirm(cmd.InOrStdin(), out, "This replaces the records stored in the destination. Continue? (yes/no): ") {
				fmt.Fprintln(out, "❌ Migration cancelled")
				return nil
			}

			ctx := cmd.Context()
			src, err := openStorage(ctx, cfg, from)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			defer src.Close()

			dst, err := openStorage(ctx, cfg, to)
			if err != nil {
				return fmt.Errorf("destination: %w", err)
			}
			defer dst.Close()

			n, err := copyRecords(ctx, src.Records(), dst.Records())
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "✅ Migrated %d contact records\n", n)
			fmt.Fprintf(out, "⚠️  Remember to set storage.type to '%s' in config.json\n", to)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source backend: file, sqlite or postgres (defaults to storage.type)")
	cmd.Flags().StringVar(&to, "to", "", "Destination backend: file, sqlite or postgres")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func copyRecords(ctx context.Context, src, dst repository.RecordRepository) (int, error) {
	records, err := src.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load source records: %w", err)
	}
	if err := dst.SaveAll(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to save records to destination: %w", err)
	}
	return len(records), nil
}

func openStorage(ctx context.Context, cfg *config.Config, storageType string) (storage.Storage, error) {
	store, err := storage.NewStorage(storageConfigFrom(cfg, storageType))
	if err != nil {
		return nil, err
	}
	if err := store.Connect(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
