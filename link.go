package fatfs

import (
	"strconv"
	"time"

	"github.com/halfpenny/fatfs/internal/direntry"
)

// maxSuffix bounds the numeric tail tried during short-name collision
// resolution (spec §4.E).
const maxSuffix = 65535

// Link is the directory allocator core: it computes the entry's slot
// footprint (LFN slots plus one 8.3 slot), finds or makes room for a
// contiguous run of that length, resolves short-name collisions, and
// writes the slots (spec §4.G Link).
func (fsys *Filesystem) Link(dir *Inode, name string, dest *Inode, isDir bool) error {
	// A second name for an already-linked non-directory is a hard link;
	// FAT carries no link count (spec §4.G Link).
	if !isDir && dest.dirent != nil && !dest.deleted {
		return ErrNotSupported
	}
	if err := fsys.checkWritable(); err != nil {
		return err
	}

	units, err := direntry.NameToUTF16(name)
	if err != nil {
		return ErrInvalidName
	}

	shortName, needLFN, err := fsys.resolveShortName(dir, name)
	if err != nil {
		return err
	}
	lfnSlots := 0
	if needLFN {
		lfnSlots = direntry.NumLFNSlots(len(units))
	}
	totalSlots := lfnSlots + 1

	d := fsys.dirFor(dir)
	start, found, _, err := d.FindFreeRun(totalSlots)
	if err != nil {
		return err
	}
	for !found {
		if _, err := d.Grow(); err != nil {
			if err == direntry.ErrCannotGrowFixedRoot {
				return ErrNoSpace
			}
			return err
		}
		start, found, _, err = d.FindFreeRun(totalSlots)
		if err != nil {
			return err
		}
	}

	checksum := direntry.ChecksumName(shortName)
	pos := start
	for i := lfnSlots; i >= 1; i-- {
		blk, within, err := d.SlotAt(pos)
		if err != nil {
			return err
		}
		raw := direntry.Raw(blk.Bytes()[within : within+direntry.SlotSize])
		if err := fsys.cache.BeginWrite(blk); err != nil {
			fsys.cache.Put(blk)
			return err
		}
		isLast := i == lfnSlots
		direntry.FillLFNSlot(raw, units, i-1, uint8(i), isLast, checksum)
		fsys.cache.FinishWrite(blk)
		fsys.cache.Put(blk)
		pos++
	}

	blk, within, err := d.SlotAt(pos)
	if err != nil {
		return err
	}
	raw := direntry.Raw(blk.Bytes()[within : within+direntry.SlotSize])
	if err := fsys.cache.BeginWrite(blk); err != nil {
		fsys.cache.Put(blk)
		return err
	}
	raw.Clear()
	raw.SetShortName(shortName)
	attr := dest.attr
	if isDir {
		attr |= direntry.AttrDirectory
	}
	raw.SetAttr(attr)
	raw.SetCluster(dest.firstCluster)
	raw.SetSize(dest.size)
	date, tod := direntry.DOSDateTime(time.Now().UTC())
	raw.SetCreateDate(date)
	raw.SetCreateTime(tod)
	raw.SetModDate(date)
	raw.SetModTime(tod)
	fsys.cache.FinishWrite(blk)

	if dest.deleted || dest.dirent == nil {
		dest.deleted = false
		dest.dirent = raw
		dest.dataBlock = blk
		dest.parent = dir
	} else {
		fsys.cache.Put(blk)
	}

	return nil
}

// resolveShortName implements the collision-resolution algorithm of
// spec §4.E: encode, scan for collisions against <prefix>~<N>, and pick
// the smallest free N.
func (fsys *Filesystem) resolveShortName(dir *Inode, name string) (shortName [11]byte, needLFN bool, err error) {
	canonical := direntry.Encode8_3(name)
	decoded := direntry.Decode8_3(canonical, false, false)

	taken := make(map[int]bool)
	baseTaken := false

	d := fsys.dirFor(dir)
	for {
		e, err := d.Next()
		if err != nil {
			return shortName, false, err
		}
		if e == nil {
			break
		}
		n, ok := parseSuffix(e.ShortName, canonical)
		if !ok {
			continue
		}
		if n == 0 {
			baseTaken = true
		} else {
			taken[n] = true
		}
	}

	if !baseTaken && decoded == name {
		return canonical, false, nil
	}
	if !baseTaken {
		return canonical, true, nil
	}

	for n := 1; n <= maxSuffix; n++ {
		if taken[n] {
			continue
		}
		sn := spliceSuffix(canonical, n)
		return sn, true, nil
	}
	return shortName, false, ErrNoSpace
}

// parseSuffix reports whether candidate shares base's extension and is
// either an exact base match (n == 0) or base's form with a "~N" tail
// spliced in (spec §4.E step 2 "collides either identically or as
// <prefix>~<N> in the same 8.3 slot pattern").
func parseSuffix(candidate, base [11]byte) (n int, ok bool) {
	for i := 8; i < 11; i++ {
		if candidate[i] != base[i] {
			return 0, false
		}
	}
	baseMatches := true
	for i := 0; i < 8; i++ {
		if candidate[i] != base[i] {
			baseMatches = false
			break
		}
	}
	if baseMatches {
		return 0, true
	}

	tilde := -1
	for i := 0; i < 8; i++ {
		if candidate[i] == '~' {
			tilde = i
			break
		}
	}
	if tilde < 0 {
		return 0, false
	}
	val := 0
	for i := tilde + 1; i < 8 && candidate[i] != ' '; i++ {
		c := candidate[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		val = val*10 + int(c-'0')
	}
	if val == 0 {
		return 0, false
	}
	return val, true
}

// spliceSuffix writes "~N" into base, trimming the base to fit (spec
// §4.E step 3).
func spliceSuffix(name [11]byte, n int) [11]byte {
	suffix := []byte("~" + strconv.Itoa(n))
	out := name
	baseLen := 8
	for baseLen > 0 && out[baseLen-1] == ' ' {
		baseLen--
	}
	if baseLen > 8-len(suffix) {
		baseLen = 8 - len(suffix)
	}
	for i := baseLen; i < 8; i++ {
		out[i] = ' '
	}
	copy(out[baseLen:8], suffix)
	return out
}

// Unlink removes name from dir (spec §4.G Unlink).
func (fsys *Filesystem) Unlink(dir *Inode, name string, wantDir bool, force bool) error {
	if err := fsys.checkWritable(); err != nil {
		return err
	}
	e, err := fsys.lookup(dir, name)
	if err != nil {
		return err
	}
	if e == nil {
		return ErrNoSuchEntry
	}
	isDir := e.Attr&direntry.AttrDirectory != 0
	if wantDir && !isDir {
		return ErrNotADirectory
	}
	if !wantDir && isDir {
		return ErrIsADirectory
	}
	if isDir && !force {
		empty, err := fsys.dirIsEmpty(e.Cluster)
		if err != nil {
			return err
		}
		if !empty {
			return ErrNotEmpty
		}
	}

	target := fsys.lookupCachedInode(e.Cluster)

	d := fsys.dirFor(dir)
	for pos := e.SlotStart; pos <= e.SlotEnd; pos++ {
		blk, within, err := d.SlotAt(pos)
		if err != nil {
			return err
		}
		raw := direntry.Raw(blk.Bytes()[within : within+direntry.SlotSize])
		if err := fsys.cache.BeginWrite(blk); err != nil {
			fsys.cache.Put(blk)
			return err
		}
		if pos == e.SlotEnd && target != nil {
			cp := make(direntry.Raw, direntry.SlotSize)
			copy(cp, raw)
			target.deletedDirent = cp
		}
		raw.MarkFree()
		fsys.cache.FinishWrite(blk)
		fsys.cache.Put(blk)
	}

	if target != nil {
		target.deleted = true
		target.dirent = target.deletedDirent
		if target.dataBlock != nil {
			fsys.cache.Put(target.dataBlock)
			target.dataBlock = nil
		}
		target.parent.UnrefLocal()
		target.parent = nil
		target.UnrefLocal()
		return nil
	}

	// Nothing holds this inode in core: nothing will ever drop the final
	// reference that would normally trigger reclaim, so free its chain
	// now (spec §4.G Unlink "physical cluster reclamation happens only
	// when the final local+remote reference to the inode drops").
	if e.Cluster != 0 {
		clst := e.Cluster
		for clst != 0 && !fsys.chain.IsEOF(clst) {
			next, err := fsys.chain.ReadEntry(clst)
			if err != nil {
				return err
			}
			if err := fsys.chain.WriteEntry(clst, 0); err != nil {
				return err
			}
			fsys.chain.Free(clst)
			clst = next
		}
	}
	return nil
}

// dirIsEmpty reports whether the directory at firstCluster has no
// entries besides "." and "..".
func (fsys *Filesystem) dirIsEmpty(firstCluster uint32) (bool, error) {
	d := fsys.newSubDir(firstCluster)
	for {
		e, err := d.Next()
		if err != nil {
			return false, err
		}
		if e == nil {
			return true, nil
		}
		if e.Name != "." && e.Name != ".." {
			return false, nil
		}
	}
}

// Rename moves/renames an entry, resolving both endpoints (spec §4.G
// Rename).
func (fsys *Filesystem) Rename(oldDir *Inode, oldName string, newDir *Inode, newName string) error {
	if err := fsys.checkWritable(); err != nil {
		return err
	}
	oldEntry, err := fsys.lookup(oldDir, oldName)
	if err != nil {
		return err
	}
	if oldEntry == nil {
		return ErrNoSuchEntry
	}
	if oldDir == newDir && oldName == newName {
		return nil
	}

	src, err := fsys.resolveChild(oldDir, oldEntry)
	if err != nil {
		return err
	}
	defer src.UnrefLocal()

	if src.isDir {
		for p := newDir; p != nil; p = p.parent {
			if p == src {
				return ErrNotSupported
			}
		}
	}

	newEntry, err := fsys.lookup(newDir, newName)
	if err != nil {
		return err
	}
	if newEntry != nil {
		destIsDir := newEntry.Attr&direntry.AttrDirectory != 0
		if destIsDir != src.isDir {
			if destIsDir {
				return ErrIsADirectory
			}
			return ErrNotADirectory
		}
		if err := fsys.Unlink(newDir, newName, destIsDir, true); err != nil {
			return err
		}
	}

	if err := fsys.Unlink(oldDir, oldName, src.isDir, true); err != nil {
		return err
	}

	if err := fsys.Link(newDir, newName, src, src.isDir); err != nil {
		if relinkErr := fsys.Link(oldDir, oldName, src, src.isDir); relinkErr != nil {
			fsys.Corrupted("rename: failed to restore source after failed link", relinkErr)
		}
		return err
	}

	if src.isDir && oldDir != newDir {
		if err := fsys.rewriteDotDot(src, newDir); err != nil {
			fsys.raiseRequestCheck("rewriting .. after rename", err)
		}
	}

	return nil
}

// rewriteDotDot updates a moved directory's ".." entry to point at its
// new parent (spec §4.G Rename).
func (fsys *Filesystem) rewriteDotDot(dir *Inode, newParent *Inode) error {
	d := fsys.newSubDir(dir.firstCluster)
	for {
		raw, pos, ok, err := d.RawNext()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if raw.Kind() != direntry.KindShort {
			continue
		}
		sn := raw.ShortName()
		if sn[0] == '.' && sn[1] == '.' {
			blk, within, err := d.SlotAt(pos)
			if err != nil {
				return err
			}
			r := direntry.Raw(blk.Bytes()[within : within+direntry.SlotSize])
			if err := fsys.cache.BeginWrite(blk); err != nil {
				fsys.cache.Put(blk)
				return err
			}
			if newParent == fsys.root {
				r.SetCluster(0)
			} else {
				r.SetCluster(newParent.firstCluster)
			}
			fsys.cache.FinishWrite(blk)
			fsys.cache.Put(blk)
			return nil
		}
	}
}
