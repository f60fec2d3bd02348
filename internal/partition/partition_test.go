package partition

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halfpenny/fatfs/internal/block"
	"github.com/halfpenny/fatfs/internal/mbr"
)

type memDevice struct {
	data       []byte
	sectorSize int
}

func newMemDevice(sectorSize, sectors int) *memDevice {
	return &memDevice{data: make([]byte, sectorSize*sectors), sectorSize: sectorSize}
}

func (d *memDevice) ReadSector(dst []byte, lba block.LBA) error {
	off := int(lba) * d.sectorSize
	copy(dst, d.data[off:off+d.sectorSize])
	return nil
}

func (d *memDevice) WriteSector(src []byte, lba block.LBA) error {
	off := int(lba) * d.sectorSize
	copy(d.data[off:off+d.sectorSize], src)
	return nil
}

func (d *memDevice) Sync() error { return nil }

func TestLocateFindsFAT32PartitionInMBR(t *testing.T) {
	dev := newMemDevice(512, 4)
	bs, err := mbr.ToBootSector(dev.data[:512])
	require.NoError(t, err)

	pte := mbr.MakePTE(0, mbr.PartitionTypeFAT32LBA, 2048, 1000, 0, 0)
	bs.SetPartitionTable(0, pte)
	binary.LittleEndian.PutUint16(dev.data[510:], mbr.BootSignature)

	start, err := Locate(dev, 512)
	require.NoError(t, err)
	require.Equal(t, block.LBA(2048), start)
}

func TestLocateReturnsErrNoFATPartitionWhenNoneFound(t *testing.T) {
	dev := newMemDevice(512, 4)
	bs, err := mbr.ToBootSector(dev.data[:512])
	require.NoError(t, err)

	pte := mbr.MakePTE(0, mbr.PartitionTypeLinux, 2048, 1000, 0, 0)
	bs.SetPartitionTable(0, pte)
	binary.LittleEndian.PutUint16(dev.data[510:], mbr.BootSignature)

	_, err = Locate(dev, 512)
	require.ErrorIs(t, err, ErrNoFATPartition)
}

func TestLocateRejectsMissingBootSignature(t *testing.T) {
	dev := newMemDevice(512, 4)
	_, err := Locate(dev, 512)
	require.ErrorIs(t, err, ErrNoFATPartition)
}
