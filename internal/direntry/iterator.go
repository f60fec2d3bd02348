package direntry

import (
	"log/slog"

	"github.com/halfpenny/fatfs/internal/block"
	"github.com/halfpenny/fatfs/internal/bpb"
	"github.com/halfpenny/fatfs/internal/fatchain"
)

// Entry is one decoded directory entry, with its long name already
// reconstructed from any preceding LFN slots (spec §4.F).
type Entry struct {
	Name          string
	ShortName     [11]byte
	ShortChecksum uint8
	Attr          uint8
	Reserved      uint8
	Cluster       uint32
	Size          uint32
	CreateDate    uint16
	CreateTime    uint16
	CreateCentis  uint8
	AccessDate    uint16
	ModDate       uint16
	ModTime       uint16

	// IsPseudo marks a synthesized "." or ".." root entry that has no
	// backing on-disk slot.
	IsPseudo bool

	// SlotStart/SlotEnd are the absolute slot positions (inclusive) this
	// entry occupies: SlotStart is the first LFN slot (or the 8.3 slot
	// if there is no LFN), SlotEnd is always the 8.3 slot. Meaningless
	// when IsPseudo.
	SlotStart, SlotEnd uint32
}

func (e *Entry) fromRaw(r Raw) {
	e.ShortName = r.ShortName()
	e.ShortChecksum = ChecksumName(e.ShortName)
	e.Attr = r.Attr()
	e.Reserved = r.Reserved()
	e.Cluster = r.Cluster()
	e.Size = r.Size()
	e.CreateDate = r.CreateDate()
	e.CreateTime = r.CreateTime()
	e.CreateCentis = r.CreateCentis()
	e.AccessDate = r.AccessDate()
	e.ModDate = r.ModDate()
	e.ModTime = r.ModTime()
}

// Dir is a stateful cursor over a directory's 32-byte slots, either a
// FAT12/16 fixed-size root region or a cluster chain (spec §4.F).
type Dir struct {
	cache *block.Cache
	chain *fatchain.Chain
	geom  bpb.Geometry
	log   *slog.Logger

	fixedRoot       bool
	rootDirentCount uint32
	firstCluster    uint32
	isRoot          bool

	pos             uint32
	cluster         uint32
	offsetInCluster uint32
	pseudoIdx       int
	atEnd           bool

	// RequestCheck is called when the iterator observes minor
	// corruption (orphaned LFN slots) that should not fail the calling
	// operation but should be flagged for fsck (spec §4.F, §7).
	RequestCheck func(reason string)
}

// NewRoot constructs a cursor over the filesystem root directory.
func NewRoot(cache *block.Cache, chain *fatchain.Chain, geom bpb.Geometry) *Dir {
	d := &Dir{cache: cache, chain: chain, geom: geom, isRoot: true}
	if geom.Type != bpb.FAT32 {
		d.fixedRoot = true
		d.rootDirentCount = geom.RootDirentCount
	} else {
		d.firstCluster = geom.RootCluster
		d.cluster = geom.RootCluster
	}
	return d
}

// NewSub constructs a cursor over a subdirectory's cluster chain.
func NewSub(cache *block.Cache, chain *fatchain.Chain, geom bpb.Geometry, firstCluster uint32) *Dir {
	return &Dir{cache: cache, chain: chain, geom: geom, firstCluster: firstCluster, cluster: firstCluster}
}

// Rewind resets the cursor to the start of the directory.
func (d *Dir) Rewind() {
	d.pos = 0
	d.cluster = d.firstCluster
	d.offsetInCluster = 0
	d.pseudoIdx = 0
	d.atEnd = false
}

func (d *Dir) requestCheck(reason string) {
	if d.log != nil {
		d.log.Warn("fatfs: directory corruption detected", "reason", reason)
	}
	if d.RequestCheck != nil {
		d.RequestCheck(reason)
	}
}

func (d *Dir) slotsPerSector() uint32 { return d.geom.BytesPerSector / SlotSize }
func (d *Dir) slotsPerCluster() uint32 {
	return d.geom.ClusterSize / SlotSize
}

// advanceChainSlot resolves the LBA and in-sector byte offset backing the
// cursor's current slot (d.cluster, d.offsetInCluster) in a cluster-chain
// directory, following the FAT chain one link when the cursor has moved
// past the current cluster. ok is false at end of chain.
func (d *Dir) advanceChainSlot() (lba block.LBA, offset int, ok bool, err error) {
	spc := d.slotsPerCluster()
	if d.offsetInCluster >= spc {
		next, err := d.chain.ReadEntry(d.cluster)
		if err != nil {
			return 0, 0, false, err
		}
		if d.chain.IsEOF(next) || next == 0 {
			return 0, 0, false, nil
		}
		d.cluster = next
		d.offsetInCluster = 0
	}
	byteOff := d.offsetInCluster * SlotSize
	sectorInCluster := byteOff / d.geom.BytesPerSector
	within := int(byteOff % d.geom.BytesPerSector)
	lba = d.chain.ClusterLBA(d.cluster) + block.LBA(sectorInCluster)
	return lba, within, true, nil
}

// RawNext returns the next raw 32-byte slot (a copy) and its absolute
// position, without LFN reconstruction or "."/".." synthesis. ok is
// false at end of directory.
func (d *Dir) RawNext() (slot Raw, pos uint32, ok bool, err error) {
	if d.atEnd {
		return nil, 0, false, nil
	}
	var lba block.LBA
	var within int
	if d.fixedRoot {
		if d.pos >= d.rootDirentCount {
			d.atEnd = true
			return nil, 0, false, nil
		}
		byteOff := d.pos * SlotSize
		lba = block.LBA(d.geom.RootLBA) + block.LBA(byteOff/d.geom.BytesPerSector)
		within = int(byteOff % d.geom.BytesPerSector)
	} else {
		var advOK bool
		lba, within, advOK, err = d.advanceChainSlot()
		if err != nil {
			return nil, 0, false, err
		}
		if !advOK {
			d.atEnd = true
			return nil, 0, false, nil
		}
	}

	b, err := d.cache.Get(lba)
	if err != nil {
		return nil, 0, false, err
	}
	raw := make(Raw, SlotSize)
	copy(raw, b.Bytes()[within:within+SlotSize])
	d.cache.Put(b)

	curPos := d.pos
	d.pos++
	if !d.fixedRoot {
		d.offsetInCluster++
	}

	if raw.Kind() == KindEnd {
		d.atEnd = true
		return nil, 0, false, nil
	}
	return raw, curPos, true, nil
}

// SlotAt pins and returns the block and in-sector byte offset backing
// the slot at absolute position pos, for in-place mutation by Link or
// Unlink. The caller must Put the block.
func (d *Dir) SlotAt(pos uint32) (*block.Block, int, error) {
	if d.fixedRoot {
		if pos >= d.rootDirentCount {
			return nil, 0, errEndOfFixedRoot
		}
		byteOff := pos * SlotSize
		lba := block.LBA(d.geom.RootLBA) + block.LBA(byteOff/d.geom.BytesPerSector)
		within := int(byteOff % d.geom.BytesPerSector)
		b, err := d.cache.Get(lba)
		return b, within, err
	}
	spc := d.slotsPerCluster()
	clusterIdx := int(pos / spc)
	offsetInCluster := pos % spc
	clst, err := d.chain.NthCluster(d.firstCluster, clusterIdx)
	if err != nil {
		return nil, 0, err
	}
	if clst == 0 {
		return nil, 0, errEndOfChain
	}
	byteOff := offsetInCluster * SlotSize
	sectorInCluster := byteOff / d.geom.BytesPerSector
	within := int(byteOff % d.geom.BytesPerSector)
	lba := d.chain.ClusterLBA(clst) + block.LBA(sectorInCluster)
	b, err := d.cache.Get(lba)
	return b, within, err
}

// IsFixedRoot reports whether this directory is the FAT12/16 fixed-size
// root region (no FAT chain, cannot grow).
func (d *Dir) IsFixedRoot() bool { return d.fixedRoot }

// FirstCluster returns the directory's first cluster (0 for a fixed
// root).
func (d *Dir) FirstCluster() uint32 { return d.firstCluster }

// SlotsPerCluster exposes the cluster capacity in slots, for callers
// that grow the chain and need to know how many new slots a cluster
// buys.
func (d *Dir) SlotsPerCluster() uint32 { return d.slotsPerCluster() }

// Next returns the next decoded entry, synthesizing "." and ".." first
// when this is the root directory, reconstructing long names from any
// preceding LFN slot run, and skipping volume-label entries. A nil
// Entry with a nil error marks end of directory.
func (d *Dir) Next() (*Entry, error) {
	if d.isRoot && d.pseudoIdx < 2 {
		e := &Entry{IsPseudo: true}
		if d.pseudoIdx == 0 {
			e.Name = "."
			e.Attr = AttrDirectory
			e.Cluster = d.firstCluster
		} else {
			e.Name = ".."
			e.Attr = AttrDirectory
			e.Cluster = 0 // root has no parent on disk
		}
		d.pseudoIdx++
		return e, nil
	}

	var lfn longNameBuffer
	for {
		raw, pos, ok, err := d.RawNext()
		if err != nil {
			return nil, err
		}
		if !ok {
			if lfn.valid {
				d.requestCheck("orphaned LFN sequence at end of directory")
			}
			return nil, nil
		}
		switch raw.Kind() {
		case KindFree:
			if lfn.valid {
				d.requestCheck("orphaned LFN sequence before free slot")
				lfn.reset()
			}
			continue
		case KindLongName:
			if !lfn.observe(raw) {
				d.requestCheck("LFN ordinal/checksum sequence broken")
			}
			continue
		case KindShort:
			sn := raw.ShortName()
			sum := ChecksumName(sn)
			e := &Entry{}
			e.fromRaw(raw)
			e.SlotEnd = pos
			if raw.Attr()&AttrVolumeID != 0 && raw.Attr()&AttrLongNameMask != AttrLongName {
				lfn.reset()
				continue // volume label: skip (spec §4.F)
			}
			if name, ok := lfn.resolve(sum); ok {
				e.Name = name
				e.SlotStart = pos - uint32(lfn.maxOrdinalSeen)
			} else {
				lower := raw.Reserved()
				e.Name = Decode8_3(sn, lower&ReservedLowerBase != 0, lower&ReservedLowerExt != 0)
				e.SlotStart = pos
			}
			return e, nil
		}
	}
}
