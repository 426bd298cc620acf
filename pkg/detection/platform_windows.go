//go:build windows

package detection

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

var (
	modmsi                     = windows.NewLazySystemDLL("msi.dll")
	procMsiOpenPackageExW      = modmsi.NewProc("MsiOpenPackageExW")
	procMsiGetProductPropertyW = modmsi.NewProc("MsiGetProductPropertyW")
	procMsiCloseHandle         = modmsi.NewProc("MsiCloseHandle")
)

const (
	msiOpenPackageFlagsIgnoreMachineState = 1
	errorMoreData                         = 234
)

func readMsiProductCode(msiPath string) (string, error) {
	if err := modmsi.Load(); err != nil {
		return "", err
	}

	path, err := windows.UTF16PtrFromString(msiPath)
	if err != nil {
		return "", err
	}

	var handle uint32
	r, _, _ := procMsiOpenPackageExW.Call(
		uintptr(unsafe.Pointer(path)),
		msiOpenPackageFlagsIgnoreMachineState,
		uintptr(unsafe.Pointer(&handle)),
	)
	if r != 0 {
		return "", fmt.Errorf("MsiOpenPackageEx: %w", syscall.Errno(r))
	}
	defer procMsiCloseHandle.Call(uintptr(handle))

	prop, _ := windows.UTF16PtrFromString("ProductCode")
	buf := make([]uint16, 64)
	for {
		size := uint32(len(buf))
		r, _, _ = procMsiGetProductPropertyW.Call(
			uintptr(handle),
			uintptr(unsafe.Pointer(prop)),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(unsafe.Pointer(&size)),
		)
		switch r {
		case 0:
			return windows.UTF16ToString(buf[:size]), nil
		case errorMoreData:
			buf = make([]uint16, size+1)
		default:
			return "", fmt.Errorf("MsiGetProductProperty: %w", syscall.Errno(r))
		}
	}
}

func readFileVersion(path string) (string, error) {
	size, err := windows.GetFileVersionInfoSize(path, nil)
	if err != nil {
		return "", err
	}

	info := make([]byte, size)
	if err := windows.GetFileVersionInfo(path, 0, size, unsafe.Pointer(&info[0])); err != nil {
		return "", err
	}

	var fixed *windows.VS_FIXEDFILEINFO
	var fixedLen uint32
	if err := windows.VerQueryValue(unsafe.Pointer(&info[0]), `\`, unsafe.Pointer(&fixed), &fixedLen); err != nil {
		return "", err
	}
	if fixed == nil || fixedLen == 0 {
		return "", errors.New("no fixed file info")
	}

	return fmt.Sprintf("%d.%d.%d.%d",
		fixed.FileVersionMS>>16, fixed.FileVersionMS&0xffff,
		fixed.FileVersionLS>>16, fixed.FileVersionLS&0xffff), nil
}

var uninstallPaths = []string{
	`SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`,
	`SOFTWARE\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall`,
}

func lookupUninstall(displayName string) (*UninstallEntry, error) {
	for _, base := range uninstallPaths {
		key, err := registry.OpenKey(registry.LOCAL_MACHINE, base, registry.READ)
		if err != nil {
			continue
		}
		names, err := key.ReadSubKeyNames(0)
		key.Close()
		if err != nil {
			continue
		}

		for _, name := range names {
			full := base + `\` + name
			sub, err := registry.OpenKey(registry.LOCAL_MACHINE, full, registry.QUERY_VALUE)
			if err != nil {
				continue
			}
			dn, _, errName := sub.GetStringValue("DisplayName")
			ver, _, _ := sub.GetStringValue("DisplayVersion")
			sub.Close()

			if errName == nil && strings.HasPrefix(strings.ToLower(dn), strings.ToLower(displayName)) {
				return &UninstallEntry{Key: full, DisplayName: dn, Version: ver}, nil
			}
		}
	}
	return nil, nil
}
