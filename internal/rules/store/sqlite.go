// Package store implements the persisted Rule store (spec §4.5, §5 "the
// rule store is copy-on-write") on sqlite, mirroring the teacher's
// sqlx-based repository pattern.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jpatrickfarrell/jat-sub014/internal/rules"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// SQLiteStore persists Rule definitions. Reads return an immutable
// snapshot; writes replace individual rows — the engine always re-reads
// the current snapshot at the start of each evaluation (spec §5).
type SQLiteStore struct {
	db *sqlx.DB
}

var _ rules.Store = (*SQLiteStore)(nil)

// Open opens (creating if absent) the sqlite-backed rule store at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize rule store schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		patterns TEXT NOT NULL,
		actions TEXT NOT NULL,
		cooldown_seconds INTEGER NOT NULL DEFAULT 0,
		max_triggers_per_session INTEGER NOT NULL DEFAULT 0,
		session_state_filter TEXT,
		preset_id TEXT,
		is_preset INTEGER NOT NULL DEFAULT 0,
		validation_error TEXT
	);
	`)
	return err
}

type ruleRow struct {
	v1.Rule
	PatternsJSON   string         `db:"patterns"`
	ActionsJSON    string         `db:"actions"`
	StateFilterRaw sql.NullString `db:"session_state_filter"`
}

// Snapshot implements rules.Store.
func (s *SQLiteStore) Snapshot(ctx context.Context) ([]v1.Rule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, category, enabled, priority, patterns, actions,
		       cooldown_seconds, max_triggers_per_session, session_state_filter,
		       preset_id, is_preset, validation_error
		FROM rules
		ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, err
	}

	out := make([]v1.Rule, 0, len(rows))
	for _, r := range rows {
		rule := r.Rule
		if err := json.Unmarshal([]byte(r.PatternsJSON), &rule.Patterns); err != nil {
			return nil, fmt.Errorf("rule %s: decode patterns: %w", rule.ID, err)
		}
		if err := json.Unmarshal([]byte(r.ActionsJSON), &rule.Actions); err != nil {
			return nil, fmt.Errorf("rule %s: decode actions: %w", rule.ID, err)
		}
		if r.StateFilterRaw.Valid && r.StateFilterRaw.String != "" {
			if err := json.Unmarshal([]byte(r.StateFilterRaw.String), &rule.SessionStateFilter); err != nil {
				return nil, fmt.Errorf("rule %s: decode state filter: %w", rule.ID, err)
			}
		}
		out = append(out, rule)
	}
	return out, nil
}

// Upsert validates and persists a rule (create or full replace by id).
func (s *SQLiteStore) Upsert(ctx context.Context, rule v1.Rule) error {
	rules.ValidateRule(&rule)

	patternsJSON, err := json.Marshal(rule.Patterns)
	if err != nil {
		return err
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return err
	}
	var stateFilterJSON []byte
	if len(rule.SessionStateFilter) > 0 {
		stateFilterJSON, err = json.Marshal(rule.SessionStateFilter)
		if err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO rules (id, name, category, enabled, priority, patterns, actions,
		                    cooldown_seconds, max_triggers_per_session, session_state_filter,
		                    preset_id, is_preset, validation_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, category = excluded.category, enabled = excluded.enabled,
			priority = excluded.priority, patterns = excluded.patterns, actions = excluded.actions,
			cooldown_seconds = excluded.cooldown_seconds,
			max_triggers_per_session = excluded.max_triggers_per_session,
			session_state_filter = excluded.session_state_filter,
			preset_id = excluded.preset_id, is_preset = excluded.is_preset,
			validation_error = excluded.validation_error
	`), rule.ID, rule.Name, rule.Category, rule.Enabled, rule.Priority,
		string(patternsJSON), string(actionsJSON), rule.CooldownSeconds, rule.MaxTriggersPerSession,
		string(stateFilterJSON), rule.PresetID, rule.IsPreset, rule.ValidationError)
	return err
}

// Delete removes a rule by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM rules WHERE id = ?`), id)
	return err
}

// Reorder persists a new priority ordering: the first id gets the highest
// priority, decreasing by 1 per position (spec §6.6 "POST /api/rules/reorder").
func (s *SQLiteStore) Reorder(ctx context.Context, orderedIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	top := len(orderedIDs)
	for i, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE rules SET priority = ? WHERE id = ?`), top-i, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// exportDoc is the spec §6.4 rule export/import wire format.
type exportDoc struct {
	Version int      `json:"version"`
	Rules   []v1.Rule `json:"rules"`
}

// Export returns the full rule set as spec §6.4's JSON document.
func (s *SQLiteStore) Export(ctx context.Context) ([]byte, error) {
	all, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return json.Marshal(exportDoc{Version: 1, Rules: all})
}

// ImportMode selects merge-by-id or full replace semantics (spec §6.4).
type ImportMode string

const (
	ImportMerge   ImportMode = "merge"
	ImportReplace ImportMode = "replace"
)

// Import loads a spec §6.4 document. merge unions by id (incoming wins on
// conflict); replace drops all rules first.
func (s *SQLiteStore) Import(ctx context.Context, raw []byte, mode ImportMode) error {
	var doc exportDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if mode == ImportReplace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
			return err
		}
	}

	for _, rule := range doc.Rules {
		rules.ValidateRule(&rule)
		patternsJSON, err := json.Marshal(rule.Patterns)
		if err != nil {
			return err
		}
		actionsJSON, err := json.Marshal(rule.Actions)
		if err != nil {
			return err
		}
		var stateFilterJSON []byte
		if len(rule.SessionStateFilter) > 0 {
			stateFilterJSON, err = json.Marshal(rule.SessionStateFilter)
			if err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO rules (id, name, category, enabled, priority, patterns, actions,
			                    cooldown_seconds, max_triggers_per_session, session_state_filter,
			                    preset_id, is_preset, validation_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, category = excluded.category, enabled = excluded.enabled,
				priority = excluded.priority, patterns = excluded.patterns, actions = excluded.actions,
				cooldown_seconds = excluded.cooldown_seconds,
				max_triggers_per_session = excluded.max_triggers_per_session,
				session_state_filter = excluded.session_state_filter,
				preset_id = excluded.preset_id, is_preset = excluded.is_preset,
				validation_error = excluded.validation_error
		`), rule.ID, rule.Name, rule.Category, rule.Enabled, rule.Priority,
			string(patternsJSON), string(actionsJSON), rule.CooldownSeconds, rule.MaxTriggersPerSession,
			string(stateFilterJSON), rule.PresetID, rule.IsPreset, rule.ValidationError); err != nil {
			return err
		}
	}

	return tx.Commit()
}
