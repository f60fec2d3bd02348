package fatfs

import "encoding/binary"

// buildFAT12Image constructs a minimal, valid FAT12 volume image with
// clusterCount data clusters of one sector each, the way
// soypat-fat/fat_test.go synthesizes a backing store for its own tests:
// one reserved boot sector, two FAT copies sized to hold clusterCount+2
// 12-bit entries, and a 512-entry fixed root directory.
func buildFAT12Image(sectorSize, clusterCount int) *MemDevice {
	const (
		reservedSectors = 1
		numFATs         = 2
		rootEntCnt      = 512
		secPerClus      = 1
	)
	rootDirSectors := (rootEntCnt*32 + sectorSize - 1) / sectorSize
	fatBytes := (clusterCount + 2) * 3 / 2
	fatSz := (fatBytes + sectorSize - 1) / sectorSize
	if fatSz < 1 {
		fatSz = 1
	}
	totalSectors := reservedSectors + numFATs*fatSz + rootDirSectors + clusterCount*secPerClus

	dev := NewMemDevice(sectorSize, totalSectors)
	boot := make([]byte, sectorSize)
	boot[0] = 0xEB
	boot[2] = 0x90
	binary.LittleEndian.PutUint16(boot[11:], uint16(sectorSize))
	boot[13] = secPerClus
	binary.LittleEndian.PutUint16(boot[14:], reservedSectors)
	boot[16] = numFATs
	binary.LittleEndian.PutUint16(boot[17:], rootEntCnt)
	binary.LittleEndian.PutUint16(boot[19:], uint16(totalSectors))
	binary.LittleEndian.PutUint16(boot[22:], uint16(fatSz))
	boot[510] = 0x55
	boot[511] = 0xAA
	dev.WriteSector(boot, 0)

	fat0 := make([]byte, sectorSize)
	fat0[0] = 0xF8
	fat0[1] = 0xFF
	fat0[2] = 0xFF
	for fatIdx := 0; fatIdx < numFATs; fatIdx++ {
		dev.WriteSector(fat0, LBA(reservedSectors+fatIdx*fatSz))
	}

	return dev
}

func mustMount(dev *MemDevice, sectorSize int) *Filesystem {
	fsys, err := Mount(dev, sectorSize, Config{Mode: ModeReadWrite})
	if err != nil {
		panic(err)
	}
	return fsys
}
