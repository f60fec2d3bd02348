//go:build linux
// +build linux

package fatfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DeviceSize returns f's size in bytes: a regular file's stat size, or a
// Linux block device's BLKGETSIZE64 for raw device paths like /dev/sdb
// (spec §6 mount "device path").
func DeviceSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return fi.Size(), nil
	}
	size, err := unix.IoctlGetUint64(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("fatfs: BLKGETSIZE64 on %s: %w", f.Name(), err)
	}
	return int64(size), nil
}
