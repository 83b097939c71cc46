// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// schemaVersion is the target shape of the database. Every bump pairs with a
// migration step below; the stored version lives in PRAGMA user_version and
// in the migration_data audit table.
const schemaVersion = 4

// Store names. Each store is one table carrying a JSON payload plus the
// columns the indexed queries need. The statistics stores and audio_cache are
// siblings owned by other subsystems; they share the database and the
// version sequence, so their shape is declared here.
const (
	storeCards         = "cards"
	storeCardTags      = "card_tags"
	storeTags          = "tags"
	storeDomains       = "domains"
	storeSettings      = "global_settings"
	storeActiveTags    = "active_tags"
	storeResponses     = "card_responses"
	storeStorageStats  = "storage_stats"
	storeMigrationData = "migration_data"
	storeSnapshots     = "snapshots"
	storeDailyStats    = "daily_stats"
	storeStreakData    = "streak_data"
	storeDomainStats   = "domain_blocking_stats"
	storeTagPerf       = "tag_performance"
	storeAudioCache    = "audio_cache"
)

// settingsKey is the fixed primary key of the singleton settings row.
const settingsKey = "global"

const coreDDL = `
CREATE TABLE IF NOT EXISTS cards (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	due_at INTEGER NOT NULL,
	interval INTEGER NOT NULL DEFAULT 0,
	draft INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	modified_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(due_at);
CREATE INDEX IF NOT EXISTS idx_cards_due_interval ON cards(due_at, interval);

CREATE TABLE IF NOT EXISTS card_tags (
	tag_name TEXT NOT NULL COLLATE NOCASE,
	card_id TEXT NOT NULL,
	PRIMARY KEY (tag_name, card_id)
);

CREATE TABLE IF NOT EXISTS tags (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tags_name_nocase ON tags(name COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS domains (
	domain TEXT PRIMARY KEY,
	active INTEGER NOT NULL DEFAULT 1,
	modified_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_domains_active ON domains(active);

CREATE TABLE IF NOT EXISTS global_settings (
	id TEXT PRIMARY KEY,
	modified_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_tags (
	tag_name TEXT PRIMARY KEY COLLATE NOCASE,
	added_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS card_responses (
	id TEXT PRIMARY KEY,
	card_id TEXT NOT NULL,
	answered_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_responses_card ON card_responses(card_id, answered_at);

CREATE TABLE IF NOT EXISTS storage_stats (
	id TEXT PRIMARY KEY,
	updated_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS migration_data (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at INTEGER NOT NULL
);
`

const snapshotsDDL = `
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	reason TEXT,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at);
`

const statsDDL = `
CREATE TABLE IF NOT EXISTS daily_stats (
	day TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS streak_data (
	id TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS domain_blocking_stats (
	domain TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_performance (
	tag_name TEXT PRIMARY KEY COLLATE NOCASE,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audio_cache (
	key TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	payload BLOB NOT NULL
);
`

// migration is one versioned, idempotent transform. Steps run strictly in
// ascending version order during an upgrade, each inside its own transaction,
// and never on a normal open of an up-to-date database.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		name:    "core tables",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, coreDDL)
			return err
		},
	},
	{
		version: 2,
		name:    "snapshots table",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, snapshotsDDL)
			return err
		},
	},
	{
		version: 3,
		name:    "statistics stores and dailyGoal backfill",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, statsDDL); err != nil {
				return err
			}
			return backfillDailyGoal(ctx, tx)
		},
	},
	{
		version: 4,
		name:    "rebuild card_tags index, normalize card types",
		apply:   rebuildCardIndexes,
	},
}

// backfillDailyGoal stamps the dailyGoal default into a stored settings
// payload that predates the field. Reads still pass through
// decodeSettingsWithDefaults, so this is belt and braces for external
// consumers of the raw row.
func backfillDailyGoal(ctx context.Context, tx *sql.Tx) error {
	var payload string
	err := tx.QueryRowContext(ctx,
		`SELECT payload FROM global_settings WHERE id = ?`, settingsKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return fmt.Errorf("decode settings payload: %w", err)
	}
	if _, ok := raw["dailyGoal"]; ok {
		return nil
	}
	raw["dailyGoal"] = defaultSettings().DailyGoal
	updated, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE global_settings SET payload = ? WHERE id = ?`, string(updated), settingsKey)
	return err
}

// rebuildCardIndexes is the store-rewrite migration: it reads every card row
// out, fixes legacy payloads (the old "close" type value, missing draft
// flag), rewrites the rows and rebuilds card_tags from scratch.
func rebuildCardIndexes(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, payload FROM cards`)
	if err != nil {
		return err
	}
	type cardRow struct {
		id      string
		payload string
	}
	var all []cardRow
	for rows.Next() {
		var r cardRow
		if err := rows.Scan(&r.id, &r.payload); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM card_tags`); err != nil {
		return err
	}

	for _, r := range all {
		var card Card
		if err := json.Unmarshal([]byte(r.payload), &card); err != nil {
			return fmt.Errorf("decode card %s: %w", r.id, err)
		}
		if string(card.Type) == "close" { // legacy typo for cloze
			card.Type = CardTypeCloze
		}
		payload, err := json.Marshal(&card)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE cards SET type = ?, due_at = ?, interval = ?, draft = ?, payload = ?
			WHERE id = ?`,
			string(card.Type), card.EffectiveDueDate(), card.Algorithm.Interval,
			boolToInt(card.Draft), string(payload), r.id); err != nil {
			return err
		}
		for _, name := range card.Tags {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO card_tags (tag_name, card_id) VALUES (?, ?)`,
				name, r.id); err != nil {
				return err
			}
		}
	}
	return nil
}

// runMigrations brings the database from its stored version up to
// schemaVersion. Each step commits atomically together with its version
// stamp; a failed step aborts the whole upgrade.
func runMigrations(ctx context.Context, db *sql.DB, logFn func(version int, name string)) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.apply(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		// PRAGMA cannot be parameterized.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("stamp version %d: %w", m.version, err)
		}
		if m.version >= 1 {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO migration_data (version, name, applied_at)
				VALUES (?, ?, ?)`,
				m.version, m.name, time.Now().UnixMilli()); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("record migration %d: %w", m.version, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		if logFn != nil {
			logFn(m.version, m.name)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
