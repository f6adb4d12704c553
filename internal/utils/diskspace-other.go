//go:build !linux && !darwin && !freebsd && !windows

package utils

import "errors"

func FreeDiskSpace(dir string) (uint64, error) {
	return 0, errors.New("free space check not supported on this platform")
}
