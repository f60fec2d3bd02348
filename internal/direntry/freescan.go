package direntry

import (
	"errors"

	"github.com/halfpenny/fatfs/internal/block"
)

// ErrCannotGrowFixedRoot is returned by Grow on the FAT12/16 fixed-size
// root region, which has no cluster chain to extend (spec §4.F).
var ErrCannotGrowFixedRoot = errors.New("fatfs: direntry: FAT12/16 root directory cannot grow")

// FindFreeRun scans from the start of the directory for a contiguous run
// of at least need free (0x00 or 0xE5) slots, stopping as soon as one is
// found; a 0x00 end-of-directory marker counts as free and does not stop
// the scan. If the scan runs past the last allocated slot without having
// accumulated enough, found is false, start is where the trailing free
// run begins (atEnd if there is none) and atEnd is the first position
// past the allocated slots, so the caller can Grow the directory and
// resume counting from there (spec §4.F free-slot scanning, §4.G Link).
func (d *Dir) FindFreeRun(need int) (start uint32, found bool, atEnd uint32, err error) {
	var streakStart uint32
	streakLen := 0
	pos := uint32(0)
	for {
		b, within, serr := d.SlotAt(pos)
		if serr == errEndOfFixedRoot || serr == errEndOfChain {
			if streakLen > 0 {
				return streakStart, false, pos, nil
			}
			return pos, false, pos, nil
		}
		if serr != nil {
			return 0, false, 0, serr
		}
		raw := Raw(b.Bytes()[within : within+SlotSize])
		kind := raw.Kind()
		d.cache.Put(b)

		switch kind {
		case KindFree:
			if streakLen == 0 {
				streakStart = pos
			}
			streakLen++
			if streakLen >= need {
				return streakStart, true, pos, nil
			}
		case KindEnd:
			// Every slot at or after the terminator up to the end of the
			// allocated region is free too; keep the streak going instead
			// of stopping at the first 0x00 (the errEndOfFixedRoot/
			// errEndOfChain branch above already reports "not enough
			// room" once the scan actually runs off the allocated slots).
			if streakLen == 0 {
				streakStart = pos
			}
			streakLen++
			if streakLen >= need {
				return streakStart, true, pos, nil
			}
		default:
			streakLen = 0
		}
		pos++
	}
}

// Grow appends one zeroed cluster to the directory's chain, writing the
// new cluster's FAT entry to EOF before linking the predecessor to it
// (spec §4.A crash-consistency ordering). Returns the new cluster number.
func (d *Dir) Grow() (uint32, error) {
	if d.fixedRoot {
		return 0, ErrCannotGrowFixedRoot
	}
	last := d.firstCluster
	for {
		next, err := d.chain.ReadEntry(last)
		if err != nil {
			return 0, err
		}
		if d.chain.IsEOF(next) || next == 0 {
			break
		}
		last = next
	}

	newClst, err := d.chain.Allocate()
	if err != nil {
		return 0, err
	}
	base := d.chain.ClusterLBA(newClst)
	for i := uint32(0); i < d.geom.SectorsPerCluster; i++ {
		b, err := d.cache.GetZeroed(base + block.LBA(i))
		if err != nil {
			return 0, err
		}
		if err := d.cache.BeginWrite(b); err != nil {
			d.cache.Put(b)
			return 0, err
		}
		d.cache.FinishWrite(b)
		d.cache.Put(b)
	}
	if err := d.chain.WriteEntry(newClst, d.chain.EOC()); err != nil {
		return 0, err
	}
	if err := d.chain.WriteEntry(last, newClst); err != nil {
		return 0, err
	}
	if d.firstCluster == 0 {
		d.firstCluster = newClst
	}
	return newClst, nil
}
