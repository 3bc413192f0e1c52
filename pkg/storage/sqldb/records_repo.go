package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/relaybot/relaybot/pkg/storage/repository"
)

type recordRepository struct {
	db        *sql.DB
	dialect   Dialect
	namespace string
}

func newRecordRepository(db *sql.DB, dialect Dialect, namespace string) *recordRepository {
	return &recordRepository{db: db, dialect: dialect, namespace: namespace}
}

// rebind turns ? placeholders into $n for postgres.
func (r *recordRepository) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

func (r *recordRepository) LoadAll(ctx context.Context) ([]repository.ContactRecord, error) {
	query := r.rebind(`SELECT contact_id, last_welcome_at, history, state, updated_at
	          FROM contact_records
	          WHERE namespace = ?
	          ORDER BY contact_id`)

	rows, err := r.db.QueryContext(ctx, query, r.namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []repository.ContactRecord
	for rows.Next() {
		var rec repository.ContactRecord
		var historyRaw []byte
		var state string
		if err := rows.Scan(&rec.ContactID, &rec.LastWelcomeAt, &historyRaw, &state, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.State = repository.State(state)
		if !rec.State.Valid() {
			return nil, fmt.Errorf("contact %s has unknown state %q", rec.ContactID, state)
		}
		rec.History = []repository.Turn{}
		if len(historyRaw) > 0 {
			if err := json.Unmarshal(historyRaw, &rec.History); err != nil {
				return nil, fmt.Errorf("contact %s has malformed history: %w", rec.ContactID, err)
			}
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// SaveAll replaces the namespace's rows with records in one transaction.
func (r *recordRepository) SaveAll(ctx context.Context, records []repository.ContactRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM contact_records WHERE namespace = ?`), r.namespace); err != nil {
		return fmt.Errorf("failed to clear namespace %s: %w", r.namespace, err)
	}

	query := r.rebind(`INSERT INTO contact_records (namespace, contact_id, last_welcome_at, history, state, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?)
	          ON CONFLICT (namespace, contact_id) DO UPDATE SET
	              last_welcome_at = excluded.last_welcome_at,
	              history = excluded.history,
	              state = excluded.state,
	              updated_at = excluded.updated_at`)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		history := rec.History
		if history == nil {
			history = []repository.Turn{}
		}
		historyJSON, err := json.Marshal(history)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			r.namespace,
			rec.ContactID,
			rec.LastWelcomeAt,
			string(historyJSON),
			string(rec.State),
			rec.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to save contact %s: %w", rec.ContactID, err)
		}
	}

	return tx.Commit()
}
