// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

//go:build !windows

package capture

import dmerr "github.com/deskmux-dev/deskmux/pkg/errors"

// NewPlatformSource reports that no native window enumeration is available
// on this build. Tests and development builds inject their own WindowSource.
func NewPlatformSource() (WindowSource, error) {
	return nil, dmerr.New(dmerr.CodeCaptureSourceFailure,
		"window enumeration is only implemented on windows")
}
