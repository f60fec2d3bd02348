package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type memDevice struct {
	data       []byte
	sectorSize int
	readOnly   bool
}

func newMemDevice(sectorSize, sectors int) *memDevice {
	return &memDevice{data: make([]byte, sectorSize*sectors), sectorSize: sectorSize}
}

func (d *memDevice) ReadSector(dst []byte, lba LBA) error {
	off := int(lba) * d.sectorSize
	copy(dst, d.data[off:off+d.sectorSize])
	return nil
}

func (d *memDevice) WriteSector(src []byte, lba LBA) error {
	if d.readOnly {
		return ErrReadOnly
	}
	off := int(lba) * d.sectorSize
	copy(d.data[off:off+d.sectorSize], src)
	return nil
}

func (d *memDevice) Sync() error { return nil }

func TestCacheGetReadsThroughToDevice(t *testing.T) {
	dev := newMemDevice(512, 4)
	copy(dev.data[512:], []byte("sector one"))

	c, err := New(dev, 512, 2, false, nil)
	require.NoError(t, err)

	b, err := c.Get(1)
	require.NoError(t, err)
	require.Equal(t, "sector one", string(b.Bytes()[:10]))
	c.Put(b)
}

func TestBeginWriteFinishWriteMarksDirtyAndSyncs(t *testing.T) {
	dev := newMemDevice(512, 4)
	c, err := New(dev, 512, 2, false, nil)
	require.NoError(t, err)

	b, err := c.Get(0)
	require.NoError(t, err)
	require.NoError(t, c.BeginWrite(b))
	copy(b.Bytes(), []byte("hello"))
	c.FinishWrite(b)
	require.True(t, b.Dirty())
	require.Equal(t, 1, c.DirtyCount())
	c.Put(b)

	require.NoError(t, c.Sync())
	require.Equal(t, "hello", string(dev.data[:5]))
}

func TestBeginWriteRejectedOnReadOnlyCache(t *testing.T) {
	dev := newMemDevice(512, 4)
	c, err := New(dev, 512, 2, true, nil)
	require.NoError(t, err)

	b, err := c.Get(0)
	require.NoError(t, err)
	defer c.Put(b)

	require.Error(t, c.BeginWrite(b))
}

func TestGetZeroedReturnsZeroedBuffer(t *testing.T) {
	dev := newMemDevice(512, 4)
	for i := range dev.data {
		dev.data[i] = 0xAA
	}
	c, err := New(dev, 512, 2, false, nil)
	require.NoError(t, err)

	b, err := c.GetZeroed(0)
	require.NoError(t, err)
	for _, v := range b.Bytes() {
		require.Equal(t, byte(0), v)
	}
	c.Put(b)
}

func TestEvictionWritesBackDirtyBlocks(t *testing.T) {
	dev := newMemDevice(512, 4)
	c, err := New(dev, 512, 1, false, nil)
	require.NoError(t, err)

	b0, err := c.Get(0)
	require.NoError(t, err)
	require.NoError(t, c.BeginWrite(b0))
	copy(b0.Bytes(), []byte("first"))
	c.FinishWrite(b0)
	c.Put(b0)

	b1, err := c.Get(1)
	require.NoError(t, err)
	c.Put(b1)

	require.Equal(t, "first", string(dev.data[:5]))
}
