// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import "errors"

// Sentinel errors. The access layer never lets a raw driver error escape:
// everything callers can act on is one of these, matched with errors.Is, and
// anything else arrives wrapped with operation context.
var (
	// ErrNotFound reports an operation on a missing card/tag/domain/snapshot.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord reports a write rejected by shape validation before
	// any store access.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrDuplicateName reports a tag name that already exists
	// (case-insensitive).
	ErrDuplicateName = errors.New("duplicate name")

	// ErrStoreMissing reports a table absent from the database, usually a
	// botched upgrade. Callers may Reinitialize to self-heal.
	ErrStoreMissing = errors.New("store missing")

	// ErrClosed reports use of a database handle after Close.
	ErrClosed = errors.New("database closed")

	// ErrTransactionActive reports a second Execute on an import transaction
	// instance that is already in flight. Instances are single-use.
	ErrTransactionActive = errors.New("import transaction already active")

	// ErrInconsistentState reports a rollback that itself failed: the store
	// may hold a mix of pre- and post-import data. The persisted snapshot
	// still permits manual recovery.
	ErrInconsistentState = errors.New("rollback failed, store may be inconsistent")
)
