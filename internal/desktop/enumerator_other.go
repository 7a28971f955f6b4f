// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

//go:build !windows

package desktop

import dmerr "github.com/deskmux-dev/deskmux/pkg/errors"

// NewPlatformEnumerator reports that no native desktop enumeration is
// available on this build. The daemon surfaces this at startup; tests and
// development builds inject their own Enumerator.
func NewPlatformEnumerator() (Enumerator, error) {
	return nil, dmerr.New(dmerr.CodeWatcherEnumerateFailure,
		"virtual desktop enumeration is only implemented on windows")
}
