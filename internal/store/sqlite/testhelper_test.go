// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package sqlite_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deskmux-dev/deskmux/internal/store/sqlite"
	"github.com/stretchr/testify/require"
)

// testDir creates a temp directory for a test and registers cleanup.
func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "deskmux-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// testStore opens a fresh SQLite store in a temp directory.
func testStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(testDir(t), "deskmux.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
