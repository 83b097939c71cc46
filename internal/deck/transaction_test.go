// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestImporter(t *testing.T) (*Importer, *DB) {
	t.Helper()
	db := newTestDB(t)
	return NewImporter(db, zerolog.Nop(), DefaultSnapshotRetention), db
}

func seedState(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.PutTag(ctx, &Tag{ID: "t1", Name: "seeded", Color: "#abc", CreatedAt: 1}))
	require.NoError(t, db.PutCard(ctx, testCard("c1", "seed front", "seed back", "seeded")))
	require.NoError(t, db.PutDomain(ctx, &Domain{Domain: "example.com", Active: true, CooldownMinutes: 15, ModifiedAt: 1}))
	s := defaultSettings()
	s.DailyGoal = 33
	require.NoError(t, db.PutSettings(ctx, &s))
}

func TestImportCommitWritesEverything(t *testing.T) {
	im, db := newTestImporter(t)
	ctx := context.Background()
	seedState(t, db)

	report, err := im.Import(ctx, &ImportData{
		Cards: map[string]*Card{"c2": testCard("c2", "new front", "new back", "seeded")},
		Tags:  map[string]*Tag{"t2": {ID: "t2", Name: "fresh", Color: "#def", CreatedAt: 2}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CardsWritten)
	assert.Equal(t, 1, report.TagsWritten)
	assert.NotEmpty(t, report.SnapshotID)

	got, err := db.GetCard(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "new front", got.Front)

	// The pre-import snapshot is persisted and reflects the seeded state.
	snap, err := db.GetSnapshot(ctx, report.SnapshotID)
	require.NoError(t, err)
	assert.Len(t, snap.Cards, 1)
	assert.Contains(t, snap.Cards, "c1")
	assert.Equal(t, 33, snap.Settings.DailyGoal)
}

func TestImportRollbackRestoresExactState(t *testing.T) {
	im, db := newTestImporter(t)
	ctx := context.Background()
	seedState(t, db)

	before, err := captureSnapshot(ctx, db, time.Now(), "before")
	require.NoError(t, err)

	// The incoming card has an empty back, which integrity validation rejects
	// after the write, forcing a rollback.
	bad := testCard("c2", "has a front", "")
	_, err = im.Import(ctx, &ImportData{
		Cards: map[string]*Card{"c2": bad},
		Tags:  map[string]*Tag{"t2": {ID: "t2", Name: "also-new", Color: "#123", CreatedAt: 2}},
	}, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInconsistentState, "rollback itself should succeed")

	after, err := captureSnapshot(ctx, db, time.Now(), "after")
	require.NoError(t, err)

	assert.Equal(t, before.Cards, after.Cards)
	assert.Equal(t, before.Tags, after.Tags)
	assert.Equal(t, before.Domains, after.Domains)
	assert.Equal(t, before.Settings, after.Settings)

	_, err = db.GetCard(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound, "the imported card must not survive rollback")
}

func TestImportRollbackRestoresSettingsOnFreshStore(t *testing.T) {
	im, db := newTestImporter(t)
	ctx := context.Background()

	// No settings were ever written explicitly; the seeded defaults are the
	// prior state a rollback must restore.
	bad := testCard("c1", "has a front", "")
	goal := defaultSettings()
	goal.DailyGoal = 99
	_, err := im.Import(ctx, &ImportData{
		Cards:    map[string]*Card{"c1": bad},
		Settings: &goal,
	}, nil)
	require.Error(t, err)

	raw, err := db.GetRawSettings(ctx)
	require.NoError(t, err)
	got, err := decodeSettingsWithDefaults(raw)
	require.NoError(t, err)
	assert.Equal(t, defaultSettings().DailyGoal, got.DailyGoal,
		"settings written by a rolled-back import must not survive")
}

func TestImportRollbackOnOperationError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedState(t, db)

	tx := NewImportTransaction(db, zerolog.Nop(), 0)
	boom := errors.New("mid-import failure")
	_, err := tx.Execute(ctx, func(ctx context.Context) error {
		if err := db.PutCard(ctx, testCard("partial", "p", "q")); err != nil {
			return err
		}
		return boom
	}, false)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, TxRolledBack, tx.State())

	_, err = db.GetCard(ctx, "partial")
	assert.ErrorIs(t, err, ErrNotFound, "partial writes must be rolled back")
	got, err := db.GetCard(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "seed front", got.Front)
}

func TestTransactionSingleUse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tx := NewImportTransaction(db, zerolog.Nop(), 0)
	_, err := tx.Execute(ctx, func(ctx context.Context) error { return nil }, false)
	require.NoError(t, err)
	assert.Equal(t, TxCommitted, tx.State())

	_, err = tx.Execute(ctx, func(ctx context.Context) error { return nil }, false)
	assert.ErrorIs(t, err, ErrTransactionActive)
}

func TestSnapshotRetentionBound(t *testing.T) {
	im, _ := newTestImporter(t)
	ctx := context.Background()

	for i := 0; i < DefaultSnapshotRetention+3; i++ {
		_, err := im.Import(ctx, &ImportData{
			Cards: map[string]*Card{
				fmt.Sprintf("c%d", i): testCard(fmt.Sprintf("c%d", i), fmt.Sprintf("front %d", i), "back"),
			},
		}, nil)
		require.NoError(t, err)
	}

	snaps, err := im.AvailableSnapshots(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(snaps), DefaultSnapshotRetention)
}

func TestValidationWarningsDoNotRollBack(t *testing.T) {
	im, db := newTestImporter(t)
	ctx := context.Background()

	// Valid content, but missing timestamps and referencing a tag that has no
	// record: both are warnings, not errors.
	card := testCard("c1", "front", "back", "no-such-tag")
	card.CreatedAt = 0
	card.ModifiedAt = 0

	report, err := im.Import(ctx, &ImportData{Cards: map[string]*Card{"c1": card}}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Warnings)

	_, err = db.GetCard(ctx, "c1")
	assert.NoError(t, err, "warned-about card should still be committed")
}

func TestRestoreFromSnapshotTakesBackupFirst(t *testing.T) {
	im, db := newTestImporter(t)
	ctx := context.Background()
	seedState(t, db)

	report, err := im.Import(ctx, &ImportData{
		Cards: map[string]*Card{"c2": testCard("c2", "imported", "card")},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, im.RestoreFromSnapshot(ctx, report.SnapshotID))

	// Back to pre-import state.
	_, err = db.GetCard(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetCard(ctx, "c1")
	assert.NoError(t, err)

	// A pre-restore backup exists alongside the restored snapshot.
	snaps, err := im.AvailableSnapshots(ctx)
	require.NoError(t, err)
	var reasons []string
	for _, s := range snaps {
		reasons = append(reasons, s.Reason)
	}
	assert.Contains(t, reasons, "pre-restore")
}

func TestValidateIntegrityFindings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutTag(ctx, &Tag{ID: "t1", Name: "colorless"}))
	empty := testCard("c1", "", "")
	require.NoError(t, db.PutCard(ctx, empty))

	issues, err := ValidateIntegrity(ctx, db)
	require.NoError(t, err)

	var errorCount int
	for _, issue := range issues {
		if issue.Severity == "error" {
			errorCount++
		}
	}
	assert.Equal(t, 2, errorCount, "empty card content and colorless tag are errors: %v", issues)
}
