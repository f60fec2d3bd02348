package fatchain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halfpenny/fatfs/internal/block"
	"github.com/halfpenny/fatfs/internal/bpb"
)

type memDevice struct {
	data       []byte
	sectorSize int
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

// newTestChain builds a FAT12 chain over a small in-memory FAT region: one
// FAT copy, 16 data clusters, all entries initially free.
func newTestChain(t *testing.T) *Chain {
	t.Helper()
	const sectorSize = 512
	const fatSectors = 1
	const clusterCount = 16

	geom := bpb.Geometry{
		Type:              bpb.FAT12,
		BytesPerSector:    sectorSize,
		SectorsPerCluster: 1,
		ClusterSize:       sectorSize,
		FATCount:          1,
		SectorsPerFAT:     fatSectors,
		FATLBA:            1,
		DataLBA:           1 + fatSectors,
		ClusterCount:      clusterCount,
	}

	dev := &memDevice{data: make([]byte, sectorSize*(1+fatSectors+clusterCount)), sectorSize: sectorSize}
	cache, err := block.New(dev, sectorSize, 8, false, nil)
	require.NoError(t, err)

	return New(cache, geom, bpb.Unknown, 2)
}

func TestAllocateReturnsDistinctFreeClusters(t *testing.T) {
	c := newTestChain(t)

	a, err := c.Allocate()
	require.NoError(t, err)
	require.NoError(t, c.WriteEntry(a, c.EOC()))

	b, err := c.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestWriteEntryReadEntryRoundTripFAT12Packing(t *testing.T) {
	c := newTestChain(t)

	require.NoError(t, c.WriteEntry(2, 0x123))
	require.NoError(t, c.WriteEntry(3, 0x456))

	v2, err := c.ReadEntry(2)
	require.NoError(t, err)
	require.Equal(t, uint32(0x123), v2)

	v3, err := c.ReadEntry(3)
	require.NoError(t, err)
	require.Equal(t, uint32(0x456), v3)
}

func TestWalkFollowsChainToEOF(t *testing.T) {
	c := newTestChain(t)

	require.NoError(t, c.WriteEntry(2, 3))
	require.NoError(t, c.WriteEntry(3, 4))
	require.NoError(t, c.WriteEntry(4, c.EOC()))

	var visited []uint32
	err := c.Walk(2, func(clst uint32) bool {
		visited = append(visited, clst)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []uint32{2, 3, 4}, visited)
}

func TestNthClusterIndexesIntoChain(t *testing.T) {
	c := newTestChain(t)
	require.NoError(t, c.WriteEntry(2, 3))
	require.NoError(t, c.WriteEntry(3, 4))
	require.NoError(t, c.WriteEntry(4, c.EOC()))

	n1, err := c.NthCluster(2, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(3), n1)

	n3, err := c.NthCluster(2, 3)
	require.NoError(t, err)
	require.Equal(t, uint32(0), n3)
}

func TestCalculateFreeCountCountsZeroEntries(t *testing.T) {
	c := newTestChain(t)
	require.NoError(t, c.WriteEntry(2, c.EOC()))

	free, err := c.CalculateFreeCount()
	require.NoError(t, err)
	require.Equal(t, uint32(15), free)
}

func TestIsEOFAndIsBad(t *testing.T) {
	c := newTestChain(t)
	require.True(t, c.IsEOF(c.EOC()))
	require.False(t, c.IsEOF(5))
	bad, _ := bpb.Geometry{Type: bpb.FAT12}.Sentinels()
	require.True(t, c.IsBad(bad))
}
