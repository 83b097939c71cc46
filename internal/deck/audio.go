// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PutAudio caches a synthesized pronunciation clip under its cache key.
func (d *DB) PutAudio(ctx context.Context, key string, clip []byte) error {
	if key == "" || len(clip) == 0 {
		return fmt.Errorf("%w: audio cache entry requires a key and data", ErrInvalidRecord)
	}
	return d.executeTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audio_cache (key, created_at, payload) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				created_at = excluded.created_at,
				payload = excluded.payload`,
			key, time.Now().UnixMilli(), clip)
		return err
	})
}

// GetAudio returns the cached clip or ErrNotFound.
func (d *DB) GetAudio(ctx context.Context, key string) ([]byte, error) {
	handle, err := d.handle()
	if err != nil {
		return nil, err
	}
	var clip []byte
	err = handle.QueryRowContext(ctx,
		`SELECT payload FROM audio_cache WHERE key = ?`, key).Scan(&clip)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audio %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, normalizeErr("get audio", err)
	}
	return clip, nil
}

// PruneAudio drops cache entries older than the cutoff and reports how many
// went.
func (d *DB) PruneAudio(ctx context.Context, olderThan time.Time) (int, error) {
	var pruned int
	err := d.executeTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM audio_cache WHERE created_at < ?`, olderThan.UnixMilli())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		pruned = int(n)
		return nil
	})
	return pruned, err
}
