// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

//go:build windows

package capture

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	ole32                        = windows.NewLazySystemDLL("ole32.dll")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procIsIconic                 = user32.NewProc("IsIconic")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetClassNameW            = user32.NewProc("GetClassNameW")
	procGetWindowLongW           = user32.NewProc("GetWindowLongW")
	procGetWindowThreadProcessID = user32.NewProc("GetWindowThreadProcessId")
	procCoCreateInstance         = ole32.NewProc("CoCreateInstance")
)

const (
	gwlExStyle      = ^uintptr(19) // GWL_EXSTYLE (-20) as uintptr
	wsExToolWindow  = 0x00000080
	clsctxInprocSrv = 0x1
)

// IVirtualDesktopManager is the one public COM surface for mapping a window
// to its virtual desktop.
var (
	clsidVirtualDesktopManager = windows.GUID{Data1: 0xaa509086, Data2: 0x5ca9, Data3: 0x4c25,
		Data4: [8]byte{0x8f, 0x95, 0x58, 0x9d, 0x3c, 0x07, 0xb4, 0x8a}}
	iidVirtualDesktopManager = windows.GUID{Data1: 0xa5cd92ff, Data2: 0x29be, Data3: 0x454c,
		Data4: [8]byte{0x8d, 0x04, 0xd8, 0x28, 0x79, 0xfb, 0x3f, 0x1b}}
)

type virtualDesktopManager struct {
	vtbl *virtualDesktopManagerVtbl
}

type virtualDesktopManagerVtbl struct {
	queryInterface                  uintptr
	addRef                          uintptr
	release                         uintptr
	isWindowOnCurrentVirtualDesktop uintptr
	getWindowDesktopID              uintptr
	moveWindowToDesktop             uintptr
}

// nativeSource enumerates top-level windows through user32 and resolves
// owning processes and desktops per window.
type nativeSource struct{}

// NewPlatformSource returns the Windows WindowSource.
func NewPlatformSource() (WindowSource, error) {
	return nativeSource{}, nil
}

func (nativeSource) Windows(_ context.Context) ([]RawWindow, error) {
	mgr, release, err := newVirtualDesktopManager()
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeCaptureSourceFailure, "creating virtual desktop manager")
	}
	defer release()

	var out []RawWindow
	cb := syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		if raw, ok := inspectWindow(hwnd, mgr); ok {
			out = append(out, raw)
		}
		return 1 // continue enumeration
	})

	ret, _, callErr := procEnumWindows.Call(cb, 0)
	if ret == 0 {
		return nil, dmerr.Wrapf(callErr, dmerr.CodeCaptureSourceFailure, "EnumWindows")
	}
	return out, nil
}

func inspectWindow(hwnd uintptr, mgr *virtualDesktopManager) (RawWindow, bool) {
	visible, _, _ := procIsWindowVisible.Call(hwnd)
	if visible == 0 {
		return RawWindow{}, false
	}

	exStyle, _, _ := procGetWindowLongW.Call(hwnd, gwlExStyle)
	tool := exStyle&wsExToolWindow != 0

	title := windowString(procGetWindowTextW, hwnd)
	class := windowString(procGetClassNameW, hwnd)
	minimized, _, _ := procIsIconic.Call(hwnd)

	var pid uint32
	procGetWindowThreadProcessID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return RawWindow{}, false
	}

	exePath := processImagePath(pid)
	name := exePath
	if idx := strings.LastIndexAny(name, `\/`); idx >= 0 {
		name = name[idx+1:]
	}

	raw := RawWindow{
		Title:          title,
		Class:          class,
		PID:            int(pid),
		ProcessName:    name,
		ExecutablePath: exePath,
		WorkingDir:     processWorkingDir(pid),
		Visible:        true,
		Minimized:      minimized != 0,
		Tool:           tool,
	}

	// Per-window desktop resolution is best-effort: cloaked and shell
	// windows legitimately fail here.
	if key, err := mgr.windowDesktopID(hwnd); err == nil {
		raw.DesktopKey = key
	}
	return raw, true
}

// windowString reads a UTF-16 string attribute of a window.
func windowString(proc *windows.LazyProc, hwnd uintptr) string {
	buf := make([]uint16, 512)
	n, _, _ := proc.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

// processWorkingDir resolves a process's current directory by reading the
// CurrentDirectory string out of its PEB. There is no documented API for
// another process's cwd, so this degrades to an empty hint on access
// denial (elevated processes), WOW64 mismatches, or a torn read.
func processWorkingDir(pid uint32) string {
	h, err := windows.OpenProcess(
		windows.PROCESS_QUERY_LIMITED_INFORMATION|windows.PROCESS_VM_READ, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	var pbi windows.PROCESS_BASIC_INFORMATION
	var retLen uint32
	err = windows.NtQueryInformationProcess(h, windows.ProcessBasicInformation,
		unsafe.Pointer(&pbi), uint32(unsafe.Sizeof(pbi)), &retLen)
	if err != nil || pbi.PebBaseAddress == nil {
		return ""
	}

	var peb windows.PEB
	if readProcessStruct(h, uintptr(unsafe.Pointer(pbi.PebBaseAddress)), unsafe.Pointer(&peb), unsafe.Sizeof(peb)) != nil {
		return ""
	}
	if peb.ProcessParameters == nil {
		return ""
	}

	var params windows.RTL_USER_PROCESS_PARAMETERS
	if readProcessStruct(h, uintptr(unsafe.Pointer(peb.ProcessParameters)), unsafe.Pointer(&params), unsafe.Sizeof(params)) != nil {
		return ""
	}

	dos := params.CurrentDirectory.DosPath
	chars := int(dos.Length) / 2
	if chars == 0 || dos.Buffer == nil {
		return ""
	}
	buf := make([]uint16, chars)
	if readProcessStruct(h, uintptr(unsafe.Pointer(dos.Buffer)), unsafe.Pointer(&buf[0]), uintptr(chars)*2) != nil {
		return ""
	}
	return normalizeCwd(windows.UTF16ToString(buf))
}

// readProcessStruct copies size bytes from another process's address space
// and treats a short read as a failure.
func readProcessStruct(h windows.Handle, addr uintptr, dst unsafe.Pointer, size uintptr) error {
	var read uintptr
	if err := windows.ReadProcessMemory(h, addr, (*byte)(dst), size, &read); err != nil {
		return err
	}
	if read != size {
		return fmt.Errorf("short process memory read: %d of %d bytes", read, size)
	}
	return nil
}

// normalizeCwd strips the trailing separator the PEB keeps on the current
// directory, except on a bare drive root.
func normalizeCwd(path string) string {
	if len(path) > 3 && strings.HasSuffix(path, `\`) {
		return strings.TrimSuffix(path, `\`)
	}
	return path
}

// processImagePath resolves the full executable path for a PID. Failures
// (access denied on elevated processes) return an empty path.
func processImagePath(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}

func newVirtualDesktopManager() (*virtualDesktopManager, func(), error) {
	var mgr *virtualDesktopManager
	hr, _, _ := procCoCreateInstance.Call(
		uintptr(unsafe.Pointer(&clsidVirtualDesktopManager)),
		0,
		clsctxInprocSrv,
		uintptr(unsafe.Pointer(&iidVirtualDesktopManager)),
		uintptr(unsafe.Pointer(&mgr)),
	)
	if int32(hr) < 0 || mgr == nil {
		return nil, nil, fmt.Errorf("CoCreateInstance(VirtualDesktopManager): HRESULT 0x%08x", uint32(hr))
	}

	release := func() {
		syscall.SyscallN(mgr.vtbl.release, uintptr(unsafe.Pointer(mgr)))
	}
	return mgr, release, nil
}

func (m *virtualDesktopManager) windowDesktopID(hwnd uintptr) (string, error) {
	var guid windows.GUID
	hr, _, _ := syscall.SyscallN(m.vtbl.getWindowDesktopID,
		uintptr(unsafe.Pointer(m)), hwnd, uintptr(unsafe.Pointer(&guid)))
	if int32(hr) < 0 {
		return "", fmt.Errorf("GetWindowDesktopId: HRESULT 0x%08x", uint32(hr))
	}
	if guid == (windows.GUID{}) {
		return "", fmt.Errorf("window has no desktop")
	}
	return strings.ToLower(guid.String()[1 : len(guid.String())-1]), nil
}
