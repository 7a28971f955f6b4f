// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package store

import "errors"

// Sentinel errors for store operations.
// These errors can be checked using errors.Is() for classification.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict occurred (e.g., a snapshot write for a
	// session that is not active, or a second open session on one desktop).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the input parameters are invalid or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDatabase indicates the underlying database failed; unlike the
	// sentinels above it reports infrastructure trouble, not caller error.
	ErrDatabase = errors.New("database error")
)
