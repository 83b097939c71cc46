// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// cardCacheSize bounds the read-through card cache. Entries are evicted on
// every write or delete of the card and on reinitialize.
const cardCacheSize = 512

type dbState int

const (
	stateUninitialized dbState = iota
	stateInitializing
	stateReady
	stateClosed
)

// DB is the database access layer: it owns the SQLite handle, runs the
// versioned migrations on open, and exposes typed per-store CRUD. The handle
// has a process-wide lifetime (uninitialized -> initializing -> ready ->
// closed, with reinitialize on demand); construct one per process and inject
// it, construct a fresh one per test.
type DB struct {
	path    string
	log     zerolog.Logger
	monitor *Monitor

	mu       sync.Mutex
	state    dbState
	inflight chan struct{}
	initErr  error
	sql      *sql.DB

	cards *lru.Cache[string, string] // card id -> payload JSON
}

// Open constructs a handle without touching the filesystem; Initialize does
// the actual open. monitor may be nil.
func Open(path string, logger zerolog.Logger, monitor *Monitor) *DB {
	cache, _ := lru.New[string, string](cardCacheSize)
	return &DB{
		path:    path,
		log:     logger,
		monitor: monitor,
		cards:   cache,
	}
}

// Initialize opens the database at the schema's declared version, creating
// or upgrading stores as needed. It is idempotent and safe to call
// concurrently: callers that arrive while an open is in flight wait for that
// same open instead of racing to a second one.
func (d *DB) Initialize(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case stateReady:
		d.mu.Unlock()
		return nil
	case stateInitializing:
		ch := d.inflight
		d.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		d.mu.Lock()
		err := d.initErr
		d.mu.Unlock()
		return err
	}
	d.state = stateInitializing
	ch := make(chan struct{})
	d.inflight = ch
	d.mu.Unlock()

	err := d.open(ctx)

	d.mu.Lock()
	d.initErr = err
	if err != nil {
		d.state = stateUninitialized
	} else {
		d.state = stateReady
	}
	close(ch)
	d.mu.Unlock()
	return err
}

func (d *DB) open(ctx context.Context) error {
	handle, err := sql.Open("sqlite", d.path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer: SQLite serializes writes anyway, and one connection
	// keeps transaction semantics predictable under the cooperative
	// concurrency model.
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)
	handle.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := handle.ExecContext(ctx, pragma); err != nil {
			_ = handle.Close()
			return fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := runMigrations(ctx, handle, func(version int, name string) {
		d.log.Info().Int("version", version).Str("step", name).Msg("applied migration")
	}); err != nil {
		_ = handle.Close()
		return err
	}

	if err := seedDefaultSettings(ctx, handle); err != nil {
		_ = handle.Close()
		return fmt.Errorf("seed settings: %w", err)
	}

	d.sql = handle
	d.cards.Purge()
	return nil
}

// seedDefaultSettings writes the defaults row when no settings row exists
// yet, so the settings singleton is present from the first initialize onward
// and snapshots always capture it.
func seedDefaultSettings(ctx context.Context, handle *sql.DB) error {
	s := defaultSettings()
	payload, err := json.Marshal(&s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = handle.ExecContext(ctx, `
		INSERT INTO global_settings (id, modified_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		settingsKey, time.Now().UnixMilli(), string(payload))
	return err
}

// Reinitialize closes and reopens the database. Components call this to
// recover from a missing-store condition (ErrStoreMissing).
func (d *DB) Reinitialize(ctx context.Context) error {
	d.mu.Lock()
	if d.state == stateInitializing {
		ch := d.inflight
		d.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		d.mu.Lock()
	}
	if d.sql != nil {
		_ = d.sql.Close()
		d.sql = nil
	}
	d.state = stateUninitialized
	d.mu.Unlock()
	d.log.Warn().Str("path", d.path).Msg("reinitializing database")
	return d.Initialize(ctx)
}

// Close releases the underlying handle. The handle can be reopened with
// Initialize.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sql != nil {
		err := d.sql.Close()
		d.sql = nil
		d.state = stateClosed
		return err
	}
	d.state = stateClosed
	return nil
}

func (d *DB) handle() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateReady || d.sql == nil {
		if d.state == stateClosed {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("database not initialized")
	}
	return d.sql, nil
}

// executeTransaction runs fn inside a single transaction. All reads and
// writes inside fn are serializable with respect to each other; nothing
// written survives if fn returns an error.
func (d *DB) executeTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	handle, err := d.handle()
	if err != nil {
		return err
	}
	if d.monitor != nil {
		d.monitor.txStarted()
		defer d.monitor.txFinished()
	}
	tx, err := handle.BeginTx(ctx, nil)
	if err != nil {
		return normalizeErr("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return normalizeErr("transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return normalizeErr("commit", err)
	}
	return nil
}

// normalizeErr keeps raw engine errors from escaping the access layer. The
// missing-table case gets its own sentinel so callers can self-heal.
func normalizeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreMissing, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- shape validation -------------------------------------------------------
//
// Writes are rejected before any store access when the record fails minimal
// shape validation. Deliberately minimal: content-level rules (non-empty
// front/back, tag colors) belong to import integrity validation, not here.

func validateCard(c *Card) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: card requires an id", ErrInvalidRecord)
	}
	if c.Type != CardTypeBasic && c.Type != CardTypeCloze {
		return fmt.Errorf("%w: card %s has unknown type %q", ErrInvalidRecord, c.ID, c.Type)
	}
	return nil
}

func validateTag(t *Tag) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("%w: tag requires an id", ErrInvalidRecord)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: tag %s requires a name", ErrInvalidRecord, t.ID)
	}
	return nil
}

func validateDomain(dm *Domain) error {
	if dm == nil || strings.TrimSpace(dm.Domain) == "" {
		return fmt.Errorf("%w: domain rule requires a domain", ErrInvalidRecord)
	}
	if dm.CooldownMinutes < 0 {
		return fmt.Errorf("%w: domain %s has negative cooldown", ErrInvalidRecord, dm.Domain)
	}
	return nil
}

func validateResponse(r *CardResponse) error {
	if r == nil || r.ID == "" || r.CardID == "" {
		return fmt.Errorf("%w: response requires id and cardId", ErrInvalidRecord)
	}
	if r.AnsweredAt <= 0 {
		return fmt.Errorf("%w: response %s requires answeredAt", ErrInvalidRecord, r.ID)
	}
	return nil
}

// --- cards ------------------------------------------------------------------

// PutCard creates or replaces a card and rewrites its secondary indexes
// (card_tags rows, due_at/interval columns) in the same transaction.
func (d *DB) PutCard(ctx context.Context, c *Card) error {
	if err := validateCard(c); err != nil {
		return err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode card %s: %w", c.ID, err)
	}
	err = d.executeTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cards (id, type, due_at, interval, draft, created_at, modified_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				due_at = excluded.due_at,
				interval = excluded.interval,
				draft = excluded.draft,
				created_at = excluded.created_at,
				modified_at = excluded.modified_at,
				payload = excluded.payload`,
			c.ID, string(c.Type), c.EffectiveDueDate(), c.Algorithm.Interval,
			boolToInt(c.Draft), c.CreatedAt, c.ModifiedAt, string(payload)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM card_tags WHERE card_id = ?`, c.ID); err != nil {
			return err
		}
		for _, name := range c.Tags {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO card_tags (tag_name, card_id) VALUES (?, ?)`,
				name, c.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.cards.Add(c.ID, string(payload))
	return nil
}

// GetCard returns the card or ErrNotFound. Hits are served from the read
// cache without touching the engine.
func (d *DB) GetCard(ctx context.Context, id string) (*Card, error) {
	if payload, ok := d.cards.Get(id); ok {
		return decodeCard(payload)
	}
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	var payload string
	err = handle.QueryRowContext(ctx, `SELECT payload FROM cards WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, normalizeErr("get card", err)
	}
	d.cards.Add(id, payload)
	return decodeCard(payload)
}

func decodeCard(payload string) (*Card, error) {
	var c Card
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("decode card: %w", err)
	}
	return &c, nil
}

// GetAllCards returns every card, ordered by creation time.
func (d *DB) GetAllCards(ctx context.Context) ([]*Card, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	rows, err := handle.QueryContext(ctx, `SELECT payload FROM cards ORDER BY created_at ASC`)
	if err != nil {
		return nil, normalizeErr("list cards", err)
	}
	defer rows.Close()

	var cards []*Card
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, normalizeErr("scan card", err)
		}
		c, err := decodeCard(payload)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// DeleteCard removes the card and its index rows. Deleting a missing card is
// not an error.
func (d *DB) DeleteCard(ctx context.Context, id string) error {
	err := d.executeTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM card_tags WHERE card_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return err
	}
	d.cards.Remove(id)
	return nil
}

// CountCards returns the number of stored cards.
func (d *DB) CountCards(ctx context.Context) (int, error) {
	return d.countStore(ctx, storeCards)
}

// GetDueCardsByTags returns up to limit due cards carrying any of the given
// tags, skipping drafts and ids in exclude. With no tags it falls back to a
// due-date range scan. Basic cards are due when their own due date has
// passed; cloze cards when any deletion is due.
func (d *DB) GetDueCardsByTags(ctx context.Context, tagNames, exclude []string, limit int, nowMillis int64) ([]*Card, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	appendDue := func(dst []*Card, payload string, seen map[string]struct{}) ([]*Card, error) {
		c, err := decodeCard(payload)
		if err != nil {
			return dst, err
		}
		if _, dup := seen[c.ID]; dup {
			return dst, nil
		}
		seen[c.ID] = struct{}{}
		if _, skip := excluded[c.ID]; skip {
			return dst, nil
		}
		if c.Draft || !c.IsDue(nowMillis) {
			return dst, nil
		}
		return append(dst, c), nil
	}

	seen := make(map[string]struct{})
	var due []*Card

	if len(tagNames) == 0 {
		rows, err := handle.QueryContext(ctx, `
			SELECT payload FROM cards
			WHERE due_at <= ? AND draft = 0
			ORDER BY due_at ASC`, nowMillis)
		if err != nil {
			return nil, normalizeErr("due card scan", err)
		}
		defer rows.Close()
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				return nil, normalizeErr("scan due card", err)
			}
			if due, err = appendDue(due, payload, seen); err != nil {
				return nil, err
			}
			if limit > 0 && len(due) >= limit {
				return due, nil
			}
		}
		return due, rows.Err()
	}

	for _, tag := range tagNames {
		rows, err := handle.QueryContext(ctx, `
			SELECT c.payload FROM cards c
			JOIN card_tags ct ON ct.card_id = c.id
			WHERE ct.tag_name = ? AND c.due_at <= ? AND c.draft = 0
			ORDER BY c.due_at ASC`, tag, nowMillis)
		if err != nil {
			return nil, normalizeErr("due card tag scan", err)
		}
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				rows.Close()
				return nil, normalizeErr("scan due card", err)
			}
			if due, err = appendDue(due, payload, seen); err != nil {
				rows.Close()
				return nil, err
			}
			if limit > 0 && len(due) >= limit {
				rows.Close()
				return due, nil
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return due, nil
}

// GetCardIDsByTag returns the ids of all cards carrying the tag, via the
// card_tags index.
func (d *DB) GetCardIDsByTag(ctx context.Context, tagName string) ([]string, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	rows, err := handle.QueryContext(ctx,
		`SELECT card_id FROM card_tags WHERE tag_name = ?`, tagName)
	if err != nil {
		return nil, normalizeErr("tag index scan", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, normalizeErr("scan tag index", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- tags -------------------------------------------------------------------

// PutTag creates or replaces a tag. The NOCASE unique index on tags.name
// backs the case-insensitive uniqueness invariant.
func (d *DB) PutTag(ctx context.Context, t *Tag) error {
	if err := validateTag(t); err != nil {
		return err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tag %s: %w", t.ID, err)
	}
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tags (id, name, created_at, payload)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				created_at = excluded.created_at,
				payload = excluded.payload`,
			t.ID, t.Name, t.CreatedAt, string(payload))
		if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("tag name %q: %w", t.Name, ErrDuplicateName)
		}
		return err
	})
}

// GetTag returns the tag by id or ErrNotFound.
func (d *DB) GetTag(ctx context.Context, id string) (*Tag, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	var payload string
	err = handle.QueryRowContext(ctx, `SELECT payload FROM tags WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tag %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, normalizeErr("get tag", err)
	}
	var t Tag
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}
	return &t, nil
}

// GetTagByName returns the tag matching the name case-insensitively, or
// ErrNotFound.
func (d *DB) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	var payload string
	err = handle.QueryRowContext(ctx,
		`SELECT payload FROM tags WHERE name = ? COLLATE NOCASE`, name).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tag named %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, normalizeErr("get tag by name", err)
	}
	var t Tag
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}
	return &t, nil
}

// GetAllTags returns every tag sorted by name.
func (d *DB) GetAllTags(ctx context.Context) ([]*Tag, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	rows, err := handle.QueryContext(ctx, `SELECT payload FROM tags ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, normalizeErr("list tags", err)
	}
	defer rows.Close()
	var tags []*Tag
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, normalizeErr("scan tag", err)
		}
		var t Tag
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("decode tag: %w", err)
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

// DeleteTag removes the tag record only; cascading into card tag lists is
// the manager's job.
func (d *DB) DeleteTag(ctx context.Context, id string) error {
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
		return err
	})
}

// --- domains ----------------------------------------------------------------

// PutDomain creates or replaces a blocking rule.
func (d *DB) PutDomain(ctx context.Context, dm *Domain) error {
	if err := validateDomain(dm); err != nil {
		return err
	}
	payload, err := json.Marshal(dm)
	if err != nil {
		return fmt.Errorf("encode domain %s: %w", dm.Domain, err)
	}
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO domains (domain, active, modified_at, payload)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(domain) DO UPDATE SET
				active = excluded.active,
				modified_at = excluded.modified_at,
				payload = excluded.payload`,
			dm.Domain, boolToInt(dm.Active), dm.ModifiedAt, string(payload))
		return err
	})
}

// GetDomain returns the rule or ErrNotFound.
func (d *DB) GetDomain(ctx context.Context, domain string) (*Domain, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	var payload string
	err = handle.QueryRowContext(ctx, `SELECT payload FROM domains WHERE domain = ?`, domain).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("domain %s: %w", domain, ErrNotFound)
	}
	if err != nil {
		return nil, normalizeErr("get domain", err)
	}
	var dm Domain
	if err := json.Unmarshal([]byte(payload), &dm); err != nil {
		return nil, fmt.Errorf("decode domain: %w", err)
	}
	return &dm, nil
}

// GetAllDomains returns every rule; activeOnly narrows to active ones via
// the domains(active) index.
func (d *DB) GetAllDomains(ctx context.Context, activeOnly bool) ([]*Domain, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	query := `SELECT payload FROM domains ORDER BY domain`
	if activeOnly {
		query = `SELECT payload FROM domains WHERE active = 1 ORDER BY domain`
	}
	rows, err := handle.QueryContext(ctx, query)
	if err != nil {
		return nil, normalizeErr("list domains", err)
	}
	defer rows.Close()
	var domains []*Domain
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, normalizeErr("scan domain", err)
		}
		var dm Domain
		if err := json.Unmarshal([]byte(payload), &dm); err != nil {
			return nil, fmt.Errorf("decode domain: %w", err)
		}
		domains = append(domains, &dm)
	}
	return domains, rows.Err()
}

// DeleteDomain removes a rule; missing rules are not an error.
func (d *DB) DeleteDomain(ctx context.Context, domain string) error {
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM domains WHERE domain = ?`, domain)
		return err
	})
}

// --- settings ---------------------------------------------------------------

// GetRawSettings returns the stored settings payload, or ErrNotFound when the
// singleton row has never been written. Callers wanting a complete record go
// through Manager.GetGlobalSettings, which decodes with defaults.
func (d *DB) GetRawSettings(ctx context.Context) ([]byte, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	var payload string
	err = handle.QueryRowContext(ctx,
		`SELECT payload FROM global_settings WHERE id = ?`, settingsKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("global settings: %w", ErrNotFound)
	}
	if err != nil {
		return nil, normalizeErr("get settings", err)
	}
	return []byte(payload), nil
}

// PutSettings replaces the singleton settings row.
func (d *DB) PutSettings(ctx context.Context, s *GlobalSettings) error {
	if s == nil {
		return fmt.Errorf("%w: nil settings", ErrInvalidRecord)
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO global_settings (id, modified_at, payload)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				modified_at = excluded.modified_at,
				payload = excluded.payload`,
			settingsKey, time.Now().UnixMilli(), string(payload))
		return err
	})
}

// --- active tags ------------------------------------------------------------

// GetActiveTags returns the session-scoping tag names sorted alphabetically.
func (d *DB) GetActiveTags(ctx context.Context) ([]string, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	rows, err := handle.QueryContext(ctx, `SELECT tag_name FROM active_tags`)
	if err != nil {
		return nil, normalizeErr("list active tags", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, normalizeErr("scan active tag", err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, rows.Err()
}

// ReplaceActiveTags overwrites the whole active set in one transaction.
func (d *DB) ReplaceActiveTags(ctx context.Context, names []string) error {
	now := time.Now().UnixMilli()
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM active_tags`); err != nil {
			return err
		}
		for _, name := range names {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO active_tags (tag_name, added_at) VALUES (?, ?)`,
				name, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddActiveTag is idempotent.
func (d *DB) AddActiveTag(ctx context.Context, name string) error {
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO active_tags (tag_name, added_at) VALUES (?, ?)`,
			name, time.Now().UnixMilli())
		return err
	})
}

// RemoveActiveTag is idempotent.
func (d *DB) RemoveActiveTag(ctx context.Context, name string) error {
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM active_tags WHERE tag_name = ?`, name)
		return err
	})
}

// --- responses --------------------------------------------------------------

// PutResponse appends one review log entry. Responses are never updated or
// deleted.
func (d *DB) PutResponse(ctx context.Context, r *CardResponse) error {
	if err := validateResponse(r); err != nil {
		return err
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode response %s: %w", r.ID, err)
	}
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO card_responses (id, card_id, answered_at, payload)
			VALUES (?, ?, ?, ?)`,
			r.ID, r.CardID, r.AnsweredAt, string(payload))
		return err
	})
}

// GetResponsesByCard returns the card's review history, newest first.
func (d *DB) GetResponsesByCard(ctx context.Context, cardID string) ([]*CardResponse, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	rows, err := handle.QueryContext(ctx, `
		SELECT payload FROM card_responses
		WHERE card_id = ? ORDER BY answered_at DESC`, cardID)
	if err != nil {
		return nil, normalizeErr("list responses", err)
	}
	defer rows.Close()
	var responses []*CardResponse
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, normalizeErr("scan response", err)
		}
		var r CardResponse
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		responses = append(responses, &r)
	}
	return responses, rows.Err()
}

// --- storage stats ----------------------------------------------------------

// PutStats persists the census row.
func (d *DB) PutStats(ctx context.Context, s *StorageStats) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO storage_stats (id, updated_at, payload)
			VALUES ('current', ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				updated_at = excluded.updated_at,
				payload = excluded.payload`,
			s.UpdatedAt, string(payload))
		return err
	})
}

// GetStats returns the persisted census or ErrNotFound.
func (d *DB) GetStats(ctx context.Context) (*StorageStats, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	var payload string
	err = handle.QueryRowContext(ctx,
		`SELECT payload FROM storage_stats WHERE id = 'current'`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("storage stats: %w", ErrNotFound)
	}
	if err != nil {
		return nil, normalizeErr("get stats", err)
	}
	var s StorageStats
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &s, nil
}

// --- snapshots --------------------------------------------------------------
//
// The snapshots store arrived in schema v2, so these calls retry once
// through a Reinitialize if the table is missing (a database created by an
// older build and never upgraded).

func (d *DB) withSnapshotStore(ctx context.Context, fn func() error) error {
	err := fn()
	if errorIsStoreMissing(err) {
		if rerr := d.Reinitialize(ctx); rerr != nil {
			return rerr
		}
		return fn()
	}
	return err
}

func errorIsStoreMissing(err error) bool {
	return errors.Is(err, ErrStoreMissing)
}

// PutSnapshot persists a snapshot.
func (d *DB) PutSnapshot(ctx context.Context, s *Snapshot) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: snapshot requires an id", ErrInvalidRecord)
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", s.ID, err)
	}
	return d.withSnapshotStore(ctx, func() error {
		return d.executeTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO snapshots (id, created_at, reason, payload)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					created_at = excluded.created_at,
					reason = excluded.reason,
					payload = excluded.payload`,
				s.ID, s.CreatedAt, s.Reason, string(payload))
			return err
		})
	})
}

// GetSnapshot loads one snapshot or ErrNotFound.
func (d *DB) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	var snap *Snapshot
	err := d.withSnapshotStore(ctx, func() error {
		handle, err := d.handle()
		if err != nil {
			return err
		}
		var payload string
		err = handle.QueryRowContext(ctx,
			`SELECT payload FROM snapshots WHERE id = ?`, id).Scan(&payload)
		if err == sql.ErrNoRows {
			return fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return normalizeErr("get snapshot", err)
		}
		var s Snapshot
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		snap = &s
		return nil
	})
	return snap, err
}

// GetAllSnapshots returns every persisted snapshot, newest first.
func (d *DB) GetAllSnapshots(ctx context.Context) ([]*Snapshot, error) {
	var snaps []*Snapshot
	err := d.withSnapshotStore(ctx, func() error {
		handle, err := d.handle()
		if err != nil {
			return err
		}
		rows, err := handle.QueryContext(ctx,
			`SELECT payload FROM snapshots ORDER BY created_at DESC`)
		if err != nil {
			return normalizeErr("list snapshots", err)
		}
		defer rows.Close()
		snaps = snaps[:0]
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				return normalizeErr("scan snapshot", err)
			}
			var s Snapshot
			if err := json.Unmarshal([]byte(payload), &s); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			snaps = append(snaps, &s)
		}
		return rows.Err()
	})
	return snaps, err
}

// DeleteSnapshot removes one snapshot; missing ids are not an error.
func (d *DB) DeleteSnapshot(ctx context.Context, id string) error {
	return d.withSnapshotStore(ctx, func() error {
		return d.executeTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
			return err
		})
	})
}

// --- clearing (rollback support) -------------------------------------------

// ClearCards removes every card and its index rows.
func (d *DB) ClearCards(ctx context.Context) error {
	err := d.executeTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM card_tags`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM cards`)
		return err
	})
	if err != nil {
		return err
	}
	d.cards.Purge()
	return nil
}

// ClearTags removes every tag record.
func (d *DB) ClearTags(ctx context.Context) error {
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM tags`)
		return err
	})
}

// ClearDomains removes every blocking rule.
func (d *DB) ClearDomains(ctx context.Context) error {
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM domains`)
		return err
	})
}

// --- counting ---------------------------------------------------------------

// countableStores are the tables countStore accepts; identifiers cannot be
// bound as parameters so the name is checked against this list.
var countableStores = map[string]struct{}{
	storeCards:        {},
	storeTags:         {},
	storeDomains:      {},
	storeSettings:     {},
	storeActiveTags:   {},
	storeResponses:    {},
	storeStorageStats: {},
	storeSnapshots:    {},
	storeDailyStats:   {},
	storeStreakData:   {},
	storeDomainStats:  {},
	storeTagPerf:      {},
	storeAudioCache:   {},
}

func (d *DB) countStore(ctx context.Context, store string) (int, error) {
	if _, ok := countableStores[store]; !ok {
		return 0, fmt.Errorf("unknown store %q", store)
	}
	handle, err := d.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := handle.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+store).Scan(&n); err != nil {
		return 0, normalizeErr("count "+store, err)
	}
	return n, nil
}

// CountStore counts records in any declared store (used by the monitor's
// usage estimation).
func (d *DB) CountStore(ctx context.Context, store string) (int, error) {
	return d.countStore(ctx, store)
}
