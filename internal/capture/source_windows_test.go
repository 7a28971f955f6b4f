// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

//go:build windows

package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCwd(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`C:\src\deskmux\`, `C:\src\deskmux`},
		{`C:\src\deskmux`, `C:\src\deskmux`},
		{`C:\`, `C:\`},
		{`\\share\work\`, `\\share\work`},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeCwd(tt.in), "input %q", tt.in)
	}
}
