package fatfs

import (
	"fmt"
	"os"

	"github.com/halfpenny/fatfs/internal/block"
)

// BlockDevice is the raw device a mount is built on: a flat address space
// of fixed-size sectors (spec §4.A). fatfs only ever reads and writes
// whole sectors through it.
type BlockDevice = block.Device

// LBA is a logical block address (sector index).
type LBA = block.LBA

// FileDevice adapts an *os.File (a regular file, or a Linux block
// special file) to BlockDevice. It owns the file descriptor for the
// lifetime of the mount (spec §4.A "Owns the device file descriptor").
type FileDevice struct {
	f          *os.File
	sectorSize int
	readOnly   bool
}

// OpenFileDevice opens path with the given sector size and mode.
func OpenFileDevice(path string, sectorSize int, readOnly bool) (*FileDevice, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("fatfs: opening device %q: %w", path, err)
	}
	return &FileDevice{f: f, sectorSize: sectorSize, readOnly: readOnly}, nil
}

func (d *FileDevice) ReadSector(dst []byte, lba block.LBA) error {
	_, err := d.f.ReadAt(dst, int64(lba)*int64(d.sectorSize))
	return err
}

func (d *FileDevice) WriteSector(src []byte, lba block.LBA) error {
	if d.readOnly {
		return block.ErrReadOnly
	}
	_, err := d.f.WriteAt(src, int64(lba)*int64(d.sectorSize))
	return err
}

func (d *FileDevice) Sync() error {
	if d.readOnly {
		return nil
	}
	return d.f.Sync()
}

// Size returns the device's size in bytes.
func (d *FileDevice) Size() (int64, error) {
	return DeviceSize(d.f)
}

// Close releases the underlying file descriptor.
func (d *FileDevice) Close() error { return d.f.Close() }

// MemDevice is an in-memory BlockDevice backing test mounts, the way the teacher's own tests synthesize a backing
// store (soypat-fat/fat_test.go).
type MemDevice struct {
	data       []byte
	sectorSize int
	readOnly   bool
}

// NewMemDevice allocates a zeroed in-memory device of the given size.
func NewMemDevice(sectorSize, totalSectors int) *MemDevice {
	return &MemDevice{data: make([]byte, sectorSize*totalSectors), sectorSize: sectorSize}
}

func (d *MemDevice) ReadSector(dst []byte, lba block.LBA) error {
	off := int(lba) * d.sectorSize
	if off+d.sectorSize > len(d.data) {
		return fmt.Errorf("fatfs: memdevice: read past end at lba %d", lba)
	}
	copy(dst, d.data[off:off+d.sectorSize])
	return nil
}

func (d *MemDevice) WriteSector(src []byte, lba block.LBA) error {
	if d.readOnly {
		return block.ErrReadOnly
	}
	off := int(lba) * d.sectorSize
	if off+d.sectorSize > len(d.data) {
		return fmt.Errorf("fatfs: memdevice: write past end at lba %d", lba)
	}
	copy(d.data[off:off+d.sectorSize], src)
	return nil
}

func (d *MemDevice) Sync() error { return nil }

// Bytes exposes the raw backing buffer, for tests that want to inspect or
// snapshot the on-disk state directly.
func (d *MemDevice) Bytes() []byte { return d.data }

// PartitionDevice offsets every sector address by a fixed LBA, letting a
// mount target a single partition on a whole-disk image located via
// internal/partition rather than requiring a pre-extracted filesystem
// image.
type PartitionDevice struct {
	base  block.Device
	start block.LBA
}

// NewPartitionDevice wraps base so LBA 0 reads/writes base's LBA start.
func NewPartitionDevice(base block.Device, start block.LBA) *PartitionDevice {
	return &PartitionDevice{base: base, start: start}
}

func (d *PartitionDevice) ReadSector(dst []byte, lba block.LBA) error {
	return d.base.ReadSector(dst, lba+d.start)
}

func (d *PartitionDevice) WriteSector(src []byte, lba block.LBA) error {
	return d.base.WriteSector(src, lba+d.start)
}

func (d *PartitionDevice) Sync() error { return d.base.Sync() }
