// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultSnapshotRetention bounds how many pre-import snapshots survive;
// older ones are pruned when a new one is taken.
const DefaultSnapshotRetention = 5

// TxState is the import transaction lifecycle. Transitions only move
// forward; a transaction instance is single-use.
type TxState string

const (
	TxIdle         TxState = "idle"
	TxSnapshotting TxState = "snapshotting"
	TxExecuting    TxState = "executing"
	TxValidating   TxState = "validating"
	TxCommitted    TxState = "committed"
	TxRolledBack   TxState = "rolled_back"
)

// ValidationIssue is one finding from post-import integrity validation.
// Errors trigger rollback; warnings are reported and tolerated.
type ValidationIssue struct {
	Severity string `json:"severity"` // "error" or "warning"
	Category string `json:"category"`
	ID       string `json:"id"`
	Message  string `json:"message"`
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s %s/%s: %s", v.Severity, v.Category, v.ID, v.Message)
}

// ImportTransaction wraps a bulk mutation in snapshot-based rollback: it
// captures and persists a full snapshot before running the operation, and on
// any failure (or integrity error when validation is requested) restores the
// snapshot bit for bit. SQLite transactions cover each individual write; this
// covers the whole multi-write import.
type ImportTransaction struct {
	db        *DB
	log       zerolog.Logger
	retention int
	nowFn     func() time.Time

	mu       sync.Mutex
	state    TxState
	snapshot *Snapshot
}

// NewImportTransaction builds a single-use transaction. retention <= 0
// selects the default.
func NewImportTransaction(db *DB, logger zerolog.Logger, retention int) *ImportTransaction {
	if retention <= 0 {
		retention = DefaultSnapshotRetention
	}
	return &ImportTransaction{
		db:        db,
		log:       logger,
		retention: retention,
		nowFn:     time.Now,
		state:     TxIdle,
	}
}

// State returns the current lifecycle state.
func (t *ImportTransaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SnapshotID returns the id of the snapshot this transaction persisted, empty
// before Execute runs.
func (t *ImportTransaction) SnapshotID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot == nil {
		return ""
	}
	return t.snapshot.ID
}

func (t *ImportTransaction) transition(s TxState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Execute runs op under snapshot protection. When validateAfter is set, the
// stored state is integrity-checked after op; errors roll back, warnings are
// returned alongside a nil error. A failed rollback returns
// ErrInconsistentState; the persisted snapshot still allows manual recovery.
func (t *ImportTransaction) Execute(ctx context.Context, op func(ctx context.Context) error, validateAfter bool) ([]ValidationIssue, error) {
	t.mu.Lock()
	if t.state != TxIdle {
		t.mu.Unlock()
		return nil, ErrTransactionActive
	}
	t.state = TxSnapshotting
	t.mu.Unlock()

	snap, err := captureSnapshot(ctx, t.db, t.nowFn(), "pre-import")
	if err != nil {
		t.transition(TxRolledBack)
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	if err := persistSnapshot(ctx, t.db, snap, t.retention); err != nil {
		t.transition(TxRolledBack)
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}
	t.mu.Lock()
	t.snapshot = snap
	t.state = TxExecuting
	t.mu.Unlock()
	t.log.Info().Str("snapshot", snap.ID).Msg("import transaction started")

	if err := op(ctx); err != nil {
		return nil, t.rollback(ctx, fmt.Errorf("import operation: %w", err))
	}

	var warnings []ValidationIssue
	if validateAfter {
		t.transition(TxValidating)
		issues, err := ValidateIntegrity(ctx, t.db)
		if err != nil {
			return nil, t.rollback(ctx, fmt.Errorf("integrity validation: %w", err))
		}
		var failures []ValidationIssue
		for _, issue := range issues {
			if issue.Severity == "error" {
				failures = append(failures, issue)
			} else {
				warnings = append(warnings, issue)
			}
		}
		if len(failures) > 0 {
			msgs := make([]string, len(failures))
			for i, f := range failures {
				msgs[i] = f.String()
			}
			return warnings, t.rollback(ctx, fmt.Errorf("integrity validation failed: %s", strings.Join(msgs, "; ")))
		}
	}

	t.transition(TxCommitted)
	t.log.Info().Str("snapshot", snap.ID).Int("warnings", len(warnings)).Msg("import transaction committed")
	return warnings, nil
}

// rollback restores the snapshot and reports the original cause. If the
// restore itself fails the error wraps ErrInconsistentState instead.
func (t *ImportTransaction) rollback(ctx context.Context, cause error) error {
	t.log.Warn().Err(cause).Str("snapshot", t.snapshot.ID).Msg("rolling back import")
	if err := restoreSnapshot(ctx, t.db, t.snapshot); err != nil {
		t.transition(TxRolledBack)
		return fmt.Errorf("%w: %v (import failed: %v)", ErrInconsistentState, err, cause)
	}
	t.transition(TxRolledBack)
	return cause
}

// captureSnapshot reads the complete core state into a Snapshot.
func captureSnapshot(ctx context.Context, db *DB, now time.Time, reason string) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: now.UnixMilli(),
		Reason:    reason,
		Cards:     map[string]*Card{},
		Tags:      map[string]*Tag{},
		Domains:   map[string]*Domain{},
	}

	cards, err := db.GetAllCards(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		snap.Cards[c.ID] = c
	}
	tags, err := db.GetAllTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		snap.Tags[t.ID] = t
	}
	domains, err := db.GetAllDomains(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, d := range domains {
		snap.Domains[d.Domain] = d
	}
	if raw, err := db.GetRawSettings(ctx); err == nil {
		s, err := decodeSettingsWithDefaults(raw)
		if err != nil {
			return nil, err
		}
		snap.Settings = s
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if stats, err := db.GetStats(ctx); err == nil {
		snap.Stats = stats
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return snap, nil
}

// persistSnapshot stores the snapshot and prunes beyond the retention bound,
// oldest first.
func persistSnapshot(ctx context.Context, db *DB, snap *Snapshot, retention int) error {
	if err := db.PutSnapshot(ctx, snap); err != nil {
		return err
	}
	all, err := db.GetAllSnapshots(ctx)
	if err != nil {
		return err
	}
	// GetAllSnapshots returns newest first.
	for i := retention; i < len(all); i++ {
		if err := db.DeleteSnapshot(ctx, all[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// restoreSnapshot clears the core stores and rewrites them from the
// snapshot. Review history and the snapshot store itself are untouched.
func restoreSnapshot(ctx context.Context, db *DB, snap *Snapshot) error {
	if err := db.ClearCards(ctx); err != nil {
		return err
	}
	for _, c := range snap.Cards {
		if err := db.PutCard(ctx, c); err != nil {
			return err
		}
	}
	if err := db.ClearTags(ctx); err != nil {
		return err
	}
	for _, t := range snap.Tags {
		if err := db.PutTag(ctx, t); err != nil {
			return err
		}
	}
	if err := db.ClearDomains(ctx); err != nil {
		return err
	}
	for _, d := range snap.Domains {
		if err := db.PutDomain(ctx, d); err != nil {
			return err
		}
	}
	settings := snap.Settings
	if settings == nil {
		// Snapshots from before the settings row was seeded at initialize
		// carry no settings; the effective prior state was the defaults.
		s := defaultSettings()
		settings = &s
	}
	if err := db.PutSettings(ctx, settings); err != nil {
		return err
	}
	if snap.Stats != nil {
		if err := db.PutStats(ctx, snap.Stats); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIntegrity checks the stored state's cross-entity invariants.
// Content defects (empty sides, unscheduled cards, incomplete tags) are
// errors; softer drift (dangling tag references, missing timestamps) is a
// warning.
func ValidateIntegrity(ctx context.Context, db *DB) ([]ValidationIssue, error) {
	var issues []ValidationIssue

	tags, err := db.GetAllTags(ctx)
	if err != nil {
		return nil, err
	}
	knownTags := make(map[string]bool, len(tags))
	for _, t := range tags {
		knownTags[strings.ToLower(t.Name)] = true
		if strings.TrimSpace(t.Name) == "" || t.Color == "" {
			issues = append(issues, ValidationIssue{
				Severity: "error",
				Category: CategoryTags,
				ID:       t.ID,
				Message:  "tag must have a name and a color",
			})
		}
	}

	cards, err := db.GetAllCards(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		if strings.TrimSpace(c.Front) == "" || strings.TrimSpace(c.Back) == "" {
			issues = append(issues, ValidationIssue{
				Severity: "error",
				Category: CategoryCards,
				ID:       c.ID,
				Message:  "card must have front and back content",
			})
		}
		if c.Algorithm.DueDate == 0 && len(c.Deletions) == 0 {
			issues = append(issues, ValidationIssue{
				Severity: "error",
				Category: CategoryCards,
				ID:       c.ID,
				Message:  "card has no scheduling state",
			})
		}
		if c.CreatedAt == 0 || c.ModifiedAt == 0 {
			issues = append(issues, ValidationIssue{
				Severity: "warning",
				Category: CategoryCards,
				ID:       c.ID,
				Message:  "card is missing timestamps",
			})
		}
		for _, name := range c.Tags {
			if !knownTags[strings.ToLower(name)] {
				issues = append(issues, ValidationIssue{
					Severity: "warning",
					Category: CategoryCards,
					ID:       c.ID,
					Message:  fmt.Sprintf("references unknown tag %q", name),
				})
			}
		}
	}
	return issues, nil
}

// ImportReport summarizes one completed import.
type ImportReport struct {
	SnapshotID      string              `json:"snapshotId"`
	Conflicts       []Conflict          `json:"conflicts,omitempty"`
	Applied         []AppliedResolution `json:"applied,omitempty"`
	Warnings        []ValidationIssue   `json:"warnings,omitempty"`
	CardsWritten    int                 `json:"cardsWritten"`
	TagsWritten     int                 `json:"tagsWritten"`
	DomainsWritten  int                 `json:"domainsWritten"`
	SettingsApplied bool                `json:"settingsApplied"`
}

// Importer is the high-level import pipeline: detect conflicts, apply
// resolutions, write everything inside an ImportTransaction. One Importer
// serves many imports; each Import call builds a fresh transaction.
type Importer struct {
	db        *DB
	resolver  *Resolver
	log       zerolog.Logger
	retention int
}

func NewImporter(db *DB, logger zerolog.Logger, retention int) *Importer {
	return &Importer{
		db:        db,
		resolver:  NewResolver(logger),
		log:       logger,
		retention: retention,
	}
}

// Preview reports the conflicts an import would hit, without writing
// anything.
func (im *Importer) Preview(ctx context.Context, data *ImportData) ([]Conflict, error) {
	state, err := captureSnapshot(ctx, im.db, time.Now(), "preview")
	if err != nil {
		return nil, err
	}
	return im.resolver.DetectAll(state, data), nil
}

// Import runs the full pipeline. Resolutions are keyed by Conflict.Key();
// conflicts without an entry use their suggested strategy.
func (im *Importer) Import(ctx context.Context, data *ImportData, resolutions map[string]ResolutionStrategy) (*ImportReport, error) {
	state, err := captureSnapshot(ctx, im.db, time.Now(), "conflict-detection")
	if err != nil {
		return nil, err
	}
	conflicts := im.resolver.DetectAll(state, data)
	sanitized, applied, err := im.resolver.Apply(state, data, resolutions)
	if err != nil {
		return nil, err
	}

	report := &ImportReport{
		Conflicts: conflicts,
		Applied:   applied,
	}

	tx := NewImportTransaction(im.db, im.log, im.retention)
	warnings, err := tx.Execute(ctx, func(ctx context.Context) error {
		for _, t := range sanitized.Tags {
			if err := im.db.PutTag(ctx, t); err != nil {
				return err
			}
			report.TagsWritten++
		}
		for _, c := range sanitized.Cards {
			if err := im.db.PutCard(ctx, c); err != nil {
				return err
			}
			report.CardsWritten++
		}
		for _, d := range sanitized.Domains {
			if err := im.db.PutDomain(ctx, d); err != nil {
				return err
			}
			report.DomainsWritten++
		}
		if sanitized.Settings != nil {
			if err := im.db.PutSettings(ctx, sanitized.Settings); err != nil {
				return err
			}
			report.SettingsApplied = true
		}
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	report.SnapshotID = tx.SnapshotID()
	report.Warnings = warnings
	return report, nil
}

// AvailableSnapshots lists persisted snapshots, newest first.
func (im *Importer) AvailableSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	snaps, err := im.db.GetAllSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]SnapshotInfo, 0, len(snaps))
	for _, s := range snaps {
		infos = append(infos, SnapshotInfo{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			Reason:    s.Reason,
			CardCount: len(s.Cards),
			TagCount:  len(s.Tags),
		})
	}
	return infos, nil
}

// RestoreFromSnapshot replaces the current state with the snapshot's,
// capturing a pre-restore snapshot first so the restore itself can be undone.
func (im *Importer) RestoreFromSnapshot(ctx context.Context, id string) error {
	target, err := im.db.GetSnapshot(ctx, id)
	if err != nil {
		return err
	}
	backup, err := captureSnapshot(ctx, im.db, time.Now(), "pre-restore")
	if err != nil {
		return err
	}
	if err := persistSnapshot(ctx, im.db, backup, im.retention); err != nil {
		return err
	}
	im.log.Info().Str("snapshot", id).Str("backup", backup.ID).Msg("restoring from snapshot")
	if err := restoreSnapshot(ctx, im.db, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistentState, err)
	}
	return nil
}

// DeleteSnapshot removes one persisted snapshot.
func (im *Importer) DeleteSnapshot(ctx context.Context, id string) error {
	return im.db.DeleteSnapshot(ctx, id)
}
