// Package partition locates a FAT filesystem's starting sector on a
// whole-disk image or block device, so the mount command can be pointed
// at a raw disk instead of requiring a pre-extracted filesystem image.
// It reads the MBR first, and falls through to GPT when the MBR carries
// the GPT protective-MBR marker (partition type 0xEE).
package partition

import (
	"errors"
	"fmt"

	"github.com/halfpenny/fatfs/internal/block"
	"github.com/halfpenny/fatfs/internal/gpt"
	"github.com/halfpenny/fatfs/internal/mbr"
)

// ErrNoFATPartition is returned when neither the MBR nor the GPT
// partition table (if present) contains a recognized FAT partition.
var ErrNoFATPartition = errors.New("fatfs: partition: no FAT partition found")

const gptProtectiveType = 0xEE

// fatTypes lists the MBR partition type bytes that indicate a FAT
// filesystem occupies the partition.
var fatTypes = map[mbr.PartitionType]bool{
	mbr.PartitionTypeFAT12:    true,
	mbr.PartitionTypeFAT16:    true,
	mbr.PartitionTypeFAT32CHS: true,
	mbr.PartitionTypeFAT32LBA: true,
}

// gptFATTypeGUID is the "Microsoft Basic Data" partition type GUID,
// which covers FAT- and NTFS-formatted GPT partitions alike; callers
// still need the BPB parse to confirm the contents are actually FAT.
var gptFATTypeGUID = [16]byte{
	0xA2, 0xA0, 0xD0, 0xEB, 0xE5, 0xB9, 0x33, 0x44,
	0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7,
}

// Locate returns the starting LBA of the first FAT partition found on
// dev, trying the MBR partition table and falling back to GPT when the
// MBR indicates one is present. sectorSize must be the device's logical
// sector size (usually 512).
func Locate(dev block.Device, sectorSize int) (startLBA block.LBA, err error) {
	sector0 := make([]byte, sectorSize)
	if err := dev.ReadSector(sector0, 0); err != nil {
		return 0, fmt.Errorf("fatfs: partition: reading sector 0: %w", err)
	}
	if len(sector0) < 512 {
		return 0, errors.New("fatfs: partition: sector too small for MBR")
	}

	bs, err := mbr.ToBootSector(sector0)
	if err != nil {
		return 0, err
	}
	if bs.BootSignature() != mbr.BootSignature {
		return 0, ErrNoFATPartition
	}

	for i := 0; i < 4; i++ {
		pte := bs.PartitionTable(i)
		if pte.PartitionType() == gptProtectiveType {
			return locateGPT(dev, sectorSize)
		}
		if fatTypes[pte.PartitionType()] {
			return block.LBA(pte.StartLBA()), nil
		}
	}
	return 0, ErrNoFATPartition
}

func locateGPT(dev block.Device, sectorSize int) (block.LBA, error) {
	headerSector := make([]byte, sectorSize)
	if err := dev.ReadSector(headerSector, block.LBA(1)); err != nil {
		return 0, fmt.Errorf("fatfs: partition: reading GPT header: %w", err)
	}
	hdr, err := gpt.ToHeader(headerSector)
	if err != nil {
		return 0, err
	}
	if hdr.Signature() != 0x5452415020494645 {
		return 0, errors.New("fatfs: partition: bad GPT signature")
	}

	entryLBA := hdr.PartitionEntryLBA()
	entrySize := hdr.SizeOfPartitionEntry()
	count := hdr.NumberOfPartitionEntries()
	if entrySize < 128 {
		return 0, errors.New("fatfs: partition: implausible GPT partition entry size")
	}
	entriesPerSector := uint32(sectorSize) / entrySize

	sector := make([]byte, sectorSize)
	for i := uint32(0); i < count; i++ {
		lba := entryLBA + int64(i/entriesPerSector)
		if err := dev.ReadSector(sector, block.LBA(lba)); err != nil {
			return 0, fmt.Errorf("fatfs: partition: reading GPT entry table: %w", err)
		}
		off := (i % entriesPerSector) * entrySize
		if off+128 > uint32(len(sector)) {
			break
		}
		entry, err := gpt.ToPartitionEntry(sector[off : off+128])
		if err != nil {
			continue
		}
		if entry.PartitionTypeGUID() == gptFATTypeGUID {
			return block.LBA(entry.FirstLBA()), nil
		}
	}
	return 0, ErrNoFATPartition
}
