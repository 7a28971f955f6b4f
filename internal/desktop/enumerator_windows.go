// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

//go:build windows

package desktop

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/windows/registry"

	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

const virtualDesktopsKey = `SOFTWARE\Microsoft\Windows\CurrentVersion\Explorer\VirtualDesktops`

// registryEnumerator reads the virtual-desktop GUID list the shell maintains
// in the registry. GUIDs are boot-scoped: a reboot reshuffles them, which is
// exactly the lifetime the session model assumes for desktop keys.
type registryEnumerator struct{}

// NewPlatformEnumerator returns the Windows registry-backed Enumerator.
func NewPlatformEnumerator() (Enumerator, error) {
	return registryEnumerator{}, nil
}

func (registryEnumerator) Desktops() ([]string, error) {
	raw, err := readBinaryValue("VirtualDesktopIDs")
	if err != nil {
		return nil, err
	}

	const guidLen = 16
	if len(raw)%guidLen != 0 {
		return nil, dmerr.Errorf(dmerr.CodeWatcherEnumerateFailure,
			"virtual desktop id list has unexpected length %d", len(raw))
	}

	keys := make([]string, 0, len(raw)/guidLen)
	for off := 0; off < len(raw); off += guidLen {
		keys = append(keys, formatGUID(raw[off:off+guidLen]))
	}
	return keys, nil
}

func (registryEnumerator) Current() (string, error) {
	raw, err := readBinaryValue("CurrentVirtualDesktop")
	if err != nil {
		return "", err
	}
	if len(raw) != 16 {
		return "", dmerr.Errorf(dmerr.CodeWatcherEnumerateFailure,
			"current virtual desktop id has unexpected length %d", len(raw))
	}
	return formatGUID(raw), nil
}

func readBinaryValue(name string) ([]byte, error) {
	key, err := registry.OpenKey(registry.CURRENT_USER, virtualDesktopsKey, registry.QUERY_VALUE)
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeWatcherEnumerateFailure, "opening virtual desktops key")
	}
	defer key.Close()

	raw, _, err := key.GetBinaryValue(name)
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeWatcherEnumerateFailure, "reading %s", name)
	}
	return raw, nil
}

// formatGUID renders a registry-layout GUID (little-endian first three
// groups) in the canonical string form.
func formatGUID(b []byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		binary.LittleEndian.Uint32(b[0:4]),
		binary.LittleEndian.Uint16(b[4:6]),
		binary.LittleEndian.Uint16(b[6:8]),
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}
