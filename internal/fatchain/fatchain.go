// Package fatchain implements the FAT chain engine (spec §4.D): reading
// and writing 12/16/28-bit cluster entries packed into raw sectors, free
// cluster search and allocation, and FSINFO maintenance.
package fatchain

import (
	"errors"
	"fmt"

	"github.com/halfpenny/fatfs/internal/block"
	"github.com/halfpenny/fatfs/internal/bpb"
)

var (
	// ErrNoSpace is returned by Allocate when no free cluster exists.
	ErrNoSpace = errors.New("fatfs: fatchain: no free cluster")
	// ErrBadCluster marks an I/O failure or an on-disk bad-cluster entry.
	ErrBadCluster = errors.New("fatfs: fatchain: bad cluster")
)

// Chain reads and writes FAT entries and tracks free-cluster accounting
// for one mounted volume.
type Chain struct {
	cache  *block.Cache
	geom   bpb.Geometry
	bad    uint32
	eocMin uint32

	freeCount  uint32 // Unknown == bpb.Unknown until first CalculateFreeCount.
	freeSearch uint32

	fsinfoLBA      block.LBA // 0 if absent (non-FAT32, or FAT32 without FSINFO)
	persistedFree  uint32
	persistedNext  uint32
}

// New constructs a Chain over cache for the given geometry. initialFree and
// initialSearch come from the FSINFO hint (or bpb.Unknown / 2).
func New(cache *block.Cache, geom bpb.Geometry, initialFree, initialSearch uint32) *Chain {
	bad, eocMin := geom.Sentinels()
	if initialSearch < 2 {
		initialSearch = 2
	}
	return &Chain{
		cache:         cache,
		geom:          geom,
		bad:           bad,
		eocMin:        eocMin,
		freeCount:     initialFree,
		freeSearch:    initialSearch,
		persistedFree: initialFree,
		persistedNext: initialSearch,
	}
}

// SetFSInfoLBA records where the FAT32 FSINFO sector lives. Call once at
// mount for FAT32 volumes that carry one; leave unset on FAT12/16.
func (c *Chain) SetFSInfoLBA(lba block.LBA) { c.fsinfoLBA = lba }

// MountCleanFlag reads the clean-shutdown flag packed into the top bits
// of FAT entry 1 (spec §4.H table). FAT12 does not maintain this flag
// and always reports clean.
func (c *Chain) MountCleanFlag() (bool, error) {
	switch c.geom.Type {
	case bpb.FAT12:
		return true, nil
	case bpb.FAT16:
		raw, err := c.readBytes(c.entryByteOffset(1), 2)
		if err != nil {
			return false, err
		}
		v := uint32(raw[0]) | uint32(raw[1])<<8
		return v&0xC000 != 0, nil
	default:
		raw, err := c.readBytes(c.entryByteOffset(1), 4)
		if err != nil {
			return false, err
		}
		v := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
		return v&0x0C000000 != 0, nil
	}
}

// SetMountCleanFlag sets or clears the clean-shutdown flag in FAT entry 1,
// preserving the rest of the entry's bits. A no-op on FAT12.
func (c *Chain) SetMountCleanFlag(clean bool) error {
	switch c.geom.Type {
	case bpb.FAT12:
		return nil
	case bpb.FAT16:
		off := c.entryByteOffset(1)
		raw, err := c.readBytes(off, 2)
		if err != nil {
			return err
		}
		v := uint32(raw[0]) | uint32(raw[1])<<8
		if clean {
			v |= 0xC000
		} else {
			v &^= 0xC000
		}
		return c.writeBytes(off, []byte{byte(v), byte(v >> 8)})
	default:
		off := c.entryByteOffset(1)
		raw, err := c.readBytes(off, 4)
		if err != nil {
			return err
		}
		v := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
		if clean {
			v |= 0x0C000000
		} else {
			v &^= 0x0C000000
		}
		return c.writeBytes(off, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	}
}

// EOC returns the canonical end-of-chain marker to write when terminating
// a chain.
func (c *Chain) EOC() uint32 {
	switch c.geom.Type {
	case bpb.FAT12:
		return 0xFFF
	case bpb.FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// IsEOF reports whether v is an end-of-chain marker for this FAT type.
func (c *Chain) IsEOF(v uint32) bool { return v >= c.eocMin }

// IsBad reports whether v is the bad-cluster (EIO) sentinel.
func (c *Chain) IsBad(v uint32) bool { return v == c.bad }

// entryByteOffset returns the byte offset of entry n within the FAT.
func (c *Chain) entryByteOffset(n uint32) uint64 {
	switch c.geom.Type {
	case bpb.FAT12:
		return uint64(n) + uint64(n)/2
	case bpb.FAT16:
		return uint64(n) * 2
	default:
		return uint64(n) * 4
	}
}

// readBytes reads n bytes starting at FAT-relative byte offset off,
// transparently crossing a sector boundary.
func (c *Chain) readBytes(off uint64, n int) ([]byte, error) {
	ss := uint64(c.cache.SectorSize())
	sector := c.geom.FATLBA + uint32(off/ss)
	within := int(off % ss)
	out := make([]byte, n)
	got := 0
	for got < n {
		b, err := c.cache.Get(block.LBA(sector))
		if err != nil {
			return nil, err
		}
		avail := int(ss) - within
		take := n - got
		if take > avail {
			take = avail
		}
		copy(out[got:got+take], b.Bytes()[within:within+take])
		c.cache.Put(b)
		got += take
		within = 0
		sector++
	}
	return out, nil
}

// ReadEntry returns the value of FAT entry n (spec §4.D ReadFAT).
func (c *Chain) ReadEntry(n uint32) (uint32, error) {
	off := c.entryByteOffset(n)
	switch c.geom.Type {
	case bpb.FAT12:
		raw, err := c.readBytes(off, 2)
		if err != nil {
			return c.bad, err
		}
		v := uint32(raw[0]) | uint32(raw[1])<<8
		if n&1 != 0 {
			return v >> 4, nil
		}
		return v & 0x0FFF, nil
	case bpb.FAT16:
		raw, err := c.readBytes(off, 2)
		if err != nil {
			return c.bad, err
		}
		return uint32(raw[0]) | uint32(raw[1])<<8, nil
	default:
		raw, err := c.readBytes(off, 4)
		if err != nil {
			return c.bad, err
		}
		v := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
		return v & 0x0FFFFFFF, nil
	}
}

// writeBytes writes data starting at FAT-relative byte offset off, for
// every FAT mirror, bracketed by begin/finish-write framing.
func (c *Chain) writeBytes(off uint64, data []byte) error {
	ss := uint64(c.cache.SectorSize())
	for mirror := uint32(0); mirror < c.geom.FATCount; mirror++ {
		base := c.geom.FATLBA + mirror*c.geom.SectorsPerFAT
		sector := base + uint32(off/ss)
		within := int(off % ss)
		wrote := 0
		for wrote < len(data) {
			b, err := c.cache.Get(block.LBA(sector))
			if err != nil {
				return err
			}
			avail := int(ss) - within
			take := len(data) - wrote
			if take > avail {
				take = avail
			}
			if err := c.cache.BeginWrite(b); err != nil {
				c.cache.Put(b)
				return err
			}
			dst := b.Bytes()
			for i := 0; i < take; i++ {
				dst[within+i] = data[wrote+i]
			}
			c.cache.FinishWrite(b)
			c.cache.Put(b)
			wrote += take
			within = 0
			sector++
		}
	}
	return nil
}

// WriteEntry writes value v to FAT entry n, mirrored across every FAT
// copy (spec §4.D WriteFAT).
func (c *Chain) WriteEntry(n, v uint32) error {
	off := c.entryByteOffset(n)
	switch c.geom.Type {
	case bpb.FAT12:
		raw, err := c.readBytes(off, 2)
		if err != nil {
			return err
		}
		old := uint32(raw[0]) | uint32(raw[1])<<8
		v &= 0x0FFF
		var merged uint32
		if n&1 != 0 {
			merged = (old & 0x000F) | (v << 4)
		} else {
			merged = (old & 0xF000) | v
		}
		return c.writeBytes(off, []byte{byte(merged), byte(merged >> 8)})
	case bpb.FAT16:
		return c.writeBytes(off, []byte{byte(v), byte(v >> 8)})
	default:
		raw, err := c.readBytes(off, 4)
		if err != nil {
			return err
		}
		old := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
		merged := (old & 0xF0000000) | (v & 0x0FFFFFFF)
		return c.writeBytes(off, []byte{byte(merged), byte(merged >> 8), byte(merged >> 16), byte(merged >> 24)})
	}
}

// Allocate performs a linear scan from freeSearch (wrapping once) for a
// free (zero-valued) cluster, returning its number and advancing
// freeSearch. It does not itself write the new entry's FAT value; callers
// write EOF before linking per the crash-consistency ordering in §4.A.
func (c *Chain) Allocate() (uint32, error) {
	total := c.geom.ClusterCount
	start := c.freeSearch
	if start < 2 || start >= total+2 {
		start = 2
	}
	for i := uint32(0); i < total; i++ {
		cand := 2 + (start-2+i)%total
		v, err := c.ReadEntry(cand)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			c.freeSearch = cand + 1
			if c.freeCount != 0xFFFFFFFF {
				c.freeCount--
			}
			return cand, nil
		}
	}
	return 0, ErrNoSpace
}

// Free performs the accounting side of freeing cluster n (spec §4.D
// FreeCluster). The caller is responsible for actually zeroing the FAT
// entry.
func (c *Chain) Free(n uint32) {
	if c.freeCount != 0xFFFFFFFF {
		c.freeCount++
	}
	c.freeSearch = n
}

// FreeCount returns the cached free-cluster count hint.
func (c *Chain) FreeCount() uint32 { return c.freeCount }

// FreeSearch returns the cached next-free-cluster hint.
func (c *Chain) FreeSearch() uint32 { return c.freeSearch }

// CalculateFreeCount walks every data cluster's FAT entry once and caches
// the result (spec §4.D).
func (c *Chain) CalculateFreeCount() (uint32, error) {
	var free uint32
	for n := uint32(2); n < c.geom.ClusterCount+2; n++ {
		v, err := c.ReadEntry(n)
		if err != nil {
			return 0, fmt.Errorf("fatfs: fatchain: walking cluster %d: %w", n, err)
		}
		if v == 0 {
			free++
		}
	}
	c.freeCount = free
	return free, nil
}

// Walk follows the chain starting at first, calling fn for each cluster
// in order. fn returning false stops iteration early without error.
func (c *Chain) Walk(first uint32, fn func(cluster uint32) bool) error {
	cur := first
	for cur != 0 && !c.IsEOF(cur) {
		if c.IsBad(cur) {
			return ErrBadCluster
		}
		if !fn(cur) {
			return nil
		}
		next, err := c.ReadEntry(cur)
		if err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// NthCluster returns the cluster at index n (0-based) in the chain
// starting at first, or 0 if the chain is shorter than n+1 clusters.
func (c *Chain) NthCluster(first uint32, n int) (uint32, error) {
	cur := first
	for i := 0; i < n; i++ {
		if cur == 0 || c.IsEOF(cur) {
			return 0, nil
		}
		next, err := c.ReadEntry(cur)
		if err != nil {
			return 0, err
		}
		cur = next
	}
	if cur == 0 || c.IsEOF(cur) {
		return 0, nil
	}
	return cur, nil
}

// ClusterLBA returns the first sector of cluster clst.
func (c *Chain) ClusterLBA(clst uint32) block.LBA {
	return block.LBA(c.geom.DataLBA + (clst-2)*c.geom.SectorsPerCluster)
}

// WriteInfo rewrites the FSINFO sector if the cached free-count or
// free-search hint differs from what was last persisted (spec §4.D
// WriteInfo). A no-op on FAT12/16 or when no FSINFO sector was found at
// mount.
func (c *Chain) WriteInfo() error {
	if c.fsinfoLBA == 0 || c.geom.Type != bpb.FAT32 {
		return nil
	}
	if c.freeCount == c.persistedFree && c.freeSearch == c.persistedNext {
		return nil
	}
	b, err := c.cache.Get(c.fsinfoLBA)
	if err != nil {
		return err
	}
	defer c.cache.Put(b)
	if err := c.cache.BeginWrite(b); err != nil {
		return err
	}
	bpb.WriteFSInfo(b.Bytes(), bpb.FSInfo{FreeCount: c.freeCount, NextFree: c.freeSearch})
	c.cache.FinishWrite(b)
	c.persistedFree = c.freeCount
	c.persistedNext = c.freeSearch
	return nil
}
