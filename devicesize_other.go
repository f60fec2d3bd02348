//go:build !linux
// +build !linux

package fatfs

import "os"

// DeviceSize returns f's size in bytes. Block-device ioctl probing is
// Linux-specific; elsewhere a regular file's stat size is all that's
// available.
func DeviceSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
