//go:build windows

package utils

import (
	"golang.org/x/sys/windows"
)

// FreeDiskSpace reports the bytes available to the caller in dir.
func FreeDiskSpace(dir string) (uint64, error) {
	path, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, err
	}
	var free uint64
	if err := windows.GetDiskFreeSpaceEx(path, &free, nil, nil); err != nil {
		return 0, err
	}
	return free, nil
}
