package fatfs

import (
	"time"

	"github.com/halfpenny/fatfs/internal/block"
	"github.com/halfpenny/fatfs/internal/direntry"
)

// MaxFileSize is FAT's 32-bit size field ceiling: 4 GiB - 1 (spec §7, §8).
const MaxFileSize = 1<<32 - 1

// OpenFlags mirrors the POSIX open(2) bits the core cares about (spec
// §4.G Open).
type OpenFlags uint32

const (
	OCreat OpenFlags = 1 << iota
	OExcl
	OTrunc
	ODirectory
	OWrite
)

// Inode is one in-core file or directory, identified by its first
// cluster number (spec §3, §4.G, §9). For the root, inode_id is the
// filesystem's synthetic root id and first_cluster mirrors it.
type Inode struct {
	fsys *Filesystem

	id           uint32
	firstCluster uint32
	isDir        bool
	attr         uint8
	size         uint32

	parent *Inode

	// dirent points at the 32-byte 8.3 slot backing this inode, pinned
	// live in dataBlock for the inode's lifetime (spec §9 "in-place
	// dirent pointer"), or at deletedDirent once unlinked.
	dirent        direntry.Raw
	dataBlock     *block.Block
	deletedDirent direntry.Raw

	deleted bool

	localRefs  int
	remoteRefs int

	// seek cache: the last (byteOffset, cluster) pair resolved by Read
	// or Write, so sequential access does not re-walk the chain from
	// first_cluster every call (spec §9 seek cache mention via §4.G Read).
	seekValid  bool
	seekOffset uint32
	seekClst   uint32
}

// ID returns the inode's identity, equal to its first cluster (or the
// synthetic root id) for the lifetime of the inode (spec §8 invariant).
func (in *Inode) ID() uint32 { return in.id }

// IsDir reports whether the inode is a directory.
func (in *Inode) IsDir() bool { return in.isDir }

// Size returns the inode's current byte size.
func (in *Inode) Size() uint32 { return in.size }

// Deleted reports whether the inode has been unlinked but is still
// referenced.
func (in *Inode) Deleted() bool { return in.deleted }

// RefLocal/RefRemote/UnrefLocal/UnrefRemote implement the dual refcount
// model of spec §9: local counts in-core temporary uses, remote counts
// outside-world handles (adapter file descriptors). Destruction happens
// only when both reach zero.
func (in *Inode) RefLocal()  { in.localRefs++ }
func (in *Inode) RefRemote() { in.remoteRefs++ }

func (in *Inode) UnrefLocal() {
	in.localRefs--
	in.maybeDestroy()
}

// UnrefRemote corresponds to the adapter's release() call (spec §6);
// it may trigger deletion if the inode was already unlinked.
func (in *Inode) UnrefRemote() {
	in.remoteRefs--
	in.maybeDestroy()
}

func (in *Inode) maybeDestroy() {
	if in.localRefs > 0 || in.remoteRefs > 0 {
		return
	}
	if in == in.fsys.root {
		return
	}
	if in.parent != nil {
		in.parent.UnrefLocal()
	}
	if in.deleted {
		in.reclaim()
	}
	if in.dataBlock != nil {
		in.fsys.cache.Put(in.dataBlock)
		in.dataBlock = nil
	}
	in.fsys.forgetInode(in)
}

// reclaim frees every cluster in the chain once the final reference to
// an unlinked inode drops (spec §4.G Unlink "physical cluster
// reclamation happens only when...").
func (in *Inode) reclaim() {
	if in.isSyntheticID() {
		return
	}
	clst := in.firstCluster
	for clst != 0 && !in.fsys.chain.IsEOF(clst) {
		next, err := in.fsys.chain.ReadEntry(clst)
		if err != nil {
			in.fsys.Corrupted("reading FAT chain during reclaim", err)
			return
		}
		if err := in.fsys.chain.WriteEntry(clst, 0); err != nil {
			in.fsys.Corrupted("clearing FAT entry during reclaim", err)
			return
		}
		in.fsys.chain.Free(clst)
		clst = next
	}
}

// isSyntheticID reports whether this inode's id was fabricated for a
// read-only zero-length file rather than backed by a real cluster
// (spec §4.F "zero-length file inode fix-up").
func (in *Inode) isSyntheticID() bool {
	return in.id >= in.fsys.geom.ClusterCount+2
}

// Stat is the subset of POSIX stat(2) fields the core can produce from
// on-disk metadata (spec §6).
type Stat struct {
	InodeID  uint32
	IsDir    bool
	ReadOnly bool
	Size     uint32
	ModTime  time.Time
	AccTime  time.Time
}

// Stat reads the inode's metadata. For the root (no backing dirent) it
// reports zero timestamps.
func (in *Inode) Stat() Stat {
	st := Stat{InodeID: in.id, IsDir: in.isDir, Size: in.size}
	st.ReadOnly = in.attr&direntry.AttrReadOnly != 0
	if in.dirent != nil {
		st.ModTime = direntry.TimeFromDOS(in.dirent.ModDate(), in.dirent.ModTime())
		st.AccTime = direntry.TimeFromDOS(in.dirent.AccessDate(), 0)
	}
	return st
}

// lookup walks dir's entries comparing decoded names for byte equality
// with name, per spec §4.G Open.
func (fsys *Filesystem) lookup(dir *Inode, name string) (*direntry.Entry, error) {
	d := fsys.dirFor(dir)
	for {
		e, err := d.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, nil
		}
		if e.Name == name {
			return e, nil
		}
	}
}

// resolveChild builds (or fetches from cache) the Inode for a decoded
// directory entry, applying the zero-length-file fix-up described in
// spec §4.F when needed.
func (fsys *Filesystem) resolveChild(parent *Inode, e *direntry.Entry) (*Inode, error) {
	isDir := e.Attr&direntry.AttrDirectory != 0

	if e.Name == "." {
		parent.localRefs++
		return parent, nil
	}
	if e.Name == ".." {
		p := parent.parent
		if p == nil {
			p = fsys.root
		}
		p.localRefs++
		return p, nil
	}

	firstClst := e.Cluster
	if firstClst == 0 && e.Size == 0 && !isDir {
		if fsys.ReadOnly() {
			return fsys.createSyntheticInode(parent, e), nil
		}
		newClst, err := fsys.fixUpZeroLengthFile(parent, e)
		if err != nil {
			return nil, err
		}
		firstClst = newClst
	}

	blk, within, err := fsys.dirFor(parent).SlotAt(e.SlotEnd)
	if err != nil {
		return nil, err
	}
	raw := direntry.Raw(blk.Bytes()[within : within+direntry.SlotSize])
	return fsys.createInode(firstClst, parent, isDir, blk, raw), nil
}

func (fsys *Filesystem) createSyntheticInode(parent *Inode, e *direntry.Entry) *Inode {
	synthID := fsys.geom.ClusterCount + 2 + e.SlotEnd
	if in := fsys.lookupCachedInode(synthID); in != nil {
		return in
	}
	in := &Inode{fsys: fsys, id: synthID, parent: parent, attr: e.Attr, localRefs: 1}
	parent.localRefs++
	fsys.inodes[synthID] = in
	return in
}

// fixUpZeroLengthFile allocates one cluster for a zero-size file whose
// on-disk first-cluster field is 0, giving it a stable inode id (spec
// §4.F).
func (fsys *Filesystem) fixUpZeroLengthFile(parent *Inode, e *direntry.Entry) (uint32, error) {
	if err := fsys.checkWritable(); err != nil {
		return 0, err
	}
	clst, err := fsys.chain.Allocate()
	if err != nil {
		return 0, err
	}
	if err := zeroCluster(fsys, clst); err != nil {
		return 0, err
	}
	if err := fsys.chain.WriteEntry(clst, fsys.chain.EOC()); err != nil {
		return 0, err
	}

	blk, within, err := fsys.dirFor(parent).SlotAt(e.SlotEnd)
	if err != nil {
		return 0, err
	}
	raw := direntry.Raw(blk.Bytes()[within : within+direntry.SlotSize])
	if err := fsys.cache.BeginWrite(blk); err != nil {
		fsys.cache.Put(blk)
		return 0, err
	}
	raw.SetCluster(clst)
	fsys.cache.FinishWrite(blk)
	fsys.cache.Put(blk)
	return clst, nil
}

func zeroCluster(fsys *Filesystem, clst uint32) error {
	base := fsys.chain.ClusterLBA(clst)
	for i := uint32(0); i < fsys.geom.SectorsPerCluster; i++ {
		b, err := fsys.cache.GetZeroed(base + block.LBA(i))
		if err != nil {
			return err
		}
		if err := fsys.cache.BeginWrite(b); err != nil {
			fsys.cache.Put(b)
			return err
		}
		fsys.cache.FinishWrite(b)
		fsys.cache.Put(b)
	}
	return nil
}

// Open resolves name within dir, optionally creating it (spec §4.G
// Open).
func (fsys *Filesystem) Open(dir *Inode, name string, flags OpenFlags, mode uint32) (*Inode, error) {
	if !dir.isDir {
		return nil, ErrNotADirectory
	}
	e, err := fsys.lookup(dir, name)
	if err != nil {
		return nil, err
	}

	if e != nil {
		if flags&OCreat != 0 && flags&OExcl != 0 {
			return nil, ErrAlreadyExists
		}
		isDir := e.Attr&direntry.AttrDirectory != 0
		if flags&ODirectory != 0 && !isDir {
			return nil, ErrNotADirectory
		}
		if flags&ODirectory == 0 && isDir && flags&OWrite != 0 {
			return nil, ErrIsADirectory
		}
		child, err := fsys.resolveChild(dir, e)
		if err != nil {
			return nil, err
		}
		if flags&OWrite != 0 && flags&OTrunc != 0 && !child.isDir {
			if err := child.Truncate(0); err != nil {
				child.UnrefLocal()
				return nil, err
			}
		}
		return child, nil
	}

	if flags&OCreat == 0 {
		return nil, ErrNoSuchEntry
	}
	return fsys.create(dir, name, mode)
}

// create allocates a fresh identity cluster, zeroes it, marks it EOF,
// and links it into dir via Link (spec §4.G Open O_CREAT path).
func (fsys *Filesystem) create(dir *Inode, name string, mode uint32) (*Inode, error) {
	if err := fsys.checkWritable(); err != nil {
		return nil, err
	}
	isDir := mode&0170000 == 0040000 // S_ISDIR

	clst, err := fsys.chain.Allocate()
	if err != nil {
		return nil, err
	}
	if err := zeroCluster(fsys, clst); err != nil {
		return nil, err
	}
	if err := fsys.chain.WriteEntry(clst, fsys.chain.EOC()); err != nil {
		return nil, err
	}

	attr := uint8(0)
	if mode&0200 == 0 {
		attr |= direntry.AttrReadOnly
	}
	if isDir {
		attr |= direntry.AttrDirectory
	}

	in := &Inode{
		fsys:         fsys,
		id:           clst,
		firstCluster: clst,
		isDir:        isDir,
		attr:         attr,
		parent:       dir,
		localRefs:    1,
	}
	dir.localRefs++
	fsys.inodes[clst] = in

	if isDir {
		if err := fsys.initSubdir(in, dir); err != nil {
			return nil, err
		}
	}

	if err := fsys.Link(dir, name, in, isDir); err != nil {
		return nil, err
	}
	return in, nil
}

// initSubdir writes the "." and ".." records into a freshly allocated
// directory cluster (spec §4.G Open "For directories...").
func (fsys *Filesystem) initSubdir(dir, parent *Inode) error {
	base := fsys.chain.ClusterLBA(dir.firstCluster)
	b, err := fsys.cache.Get(base)
	if err != nil {
		return err
	}
	if err := fsys.cache.BeginWrite(b); err != nil {
		fsys.cache.Put(b)
		return err
	}
	now := time.Now().UTC()
	date, tod := direntry.DOSDateTime(now)

	dot := direntry.Raw(b.Bytes()[0:direntry.SlotSize])
	dot.Clear()
	dot.SetShortName(direntry.Encode8_3("."))
	dot.SetAttr(direntry.AttrDirectory)
	dot.SetCluster(dir.firstCluster)
	dot.SetCreateDate(date)
	dot.SetCreateTime(tod)
	dot.SetModDate(date)
	dot.SetModTime(tod)

	dotdot := direntry.Raw(b.Bytes()[direntry.SlotSize : 2*direntry.SlotSize])
	dotdot.Clear()
	dotdot.SetShortName(direntry.Encode8_3(".."))
	dotdot.SetAttr(direntry.AttrDirectory)
	if parent != fsys.root {
		dotdot.SetCluster(parent.firstCluster)
	}
	dotdot.SetCreateDate(date)
	dotdot.SetCreateTime(tod)
	dotdot.SetModDate(date)
	dotdot.SetModTime(tod)

	fsys.cache.FinishWrite(b)
	fsys.cache.Put(b)
	return nil
}

// Readdir returns every decoded entry of dir, including the synthesized
// "." and ".." (spec §4.F).
func (fsys *Filesystem) Readdir(dir *Inode) ([]*direntry.Entry, error) {
	if !dir.isDir {
		return nil, ErrNotADirectory
	}
	d := fsys.dirFor(dir)
	var out []*direntry.Entry
	for {
		e, err := d.Next()
		if err != nil {
			return out, err
		}
		if e == nil {
			return out, nil
		}
		out = append(out, e)
	}
}

// Read copies up to len(buf) bytes starting at off into buf, walking the
// chain with the inode's seek cache (spec §4.G Read).
func (in *Inode) Read(buf []byte, off uint32) (int, error) {
	if in.isDir {
		return 0, ErrIsADirectory
	}
	if off >= in.size {
		return 0, nil
	}
	n := uint32(len(buf))
	if off+n > in.size {
		n = in.size - off
	}
	return in.rw(buf[:n], off, false)
}

// Write mirrors Read's sector loop but mutates under begin/finish-write
// framing, growing the file first if needed (spec §4.G Write).
func (in *Inode) Write(buf []byte, off uint32) (int, error) {
	if in.isDir {
		return 0, ErrIsADirectory
	}
	if err := in.fsys.checkWritable(); err != nil {
		return 0, err
	}
	need := uint64(off) + uint64(len(buf))
	if need > MaxFileSize {
		return 0, ErrFileTooLarge
	}
	if uint32(need) > in.size {
		if err := in.Truncate(uint32(need)); err != nil {
			// partial write still attempted below with whatever grew
			if in.size <= off {
				return 0, err
			}
		}
	}
	n, err := in.rw(buf, off, true)
	if n > 0 {
		in.touchModified()
	}
	return n, err
}

// rw implements the shared sector-walk loop for Read (write=false) and
// Write (write=true).
func (in *Inode) rw(buf []byte, off uint32, write bool) (int, error) {
	geom := in.fsys.geom
	clusterSize := geom.ClusterSize
	sectorSize := geom.BytesPerSector

	startClusterIdx := int(off / clusterSize)
	clst, err := in.seekTo(startClusterIdx)
	if err != nil {
		return 0, err
	}

	done := 0
	remaining := buf
	cur := off
	for len(remaining) > 0 {
		if clst == 0 || in.fsys.chain.IsEOF(clst) {
			break
		}
		offsetInCluster := cur % clusterSize
		sectorInCluster := offsetInCluster / sectorSize
		within := offsetInCluster % sectorSize
		lba := in.fsys.chain.ClusterLBA(clst) + block.LBA(sectorInCluster)

		chunk := sectorSize - within
		if uint32(len(remaining)) < chunk {
			chunk = uint32(len(remaining))
		}

		b, err := in.fsys.cache.Get(lba)
		if err != nil {
			return done, err
		}

		if write {
			if err := in.fsys.cache.BeginWrite(b); err != nil {
				in.fsys.cache.Put(b)
				return done, err
			}
			copy(b.Bytes()[within:within+chunk], remaining[:chunk])
			in.fsys.cache.FinishWrite(b)
		} else {
			copy(remaining[:chunk], b.Bytes()[within:within+chunk])
		}
		in.fsys.cache.Put(b)

		done += int(chunk)
		cur += chunk
		remaining = remaining[chunk:]

		if within+chunk == sectorSize && sectorInCluster+1 == geom.SectorsPerCluster {
			next, err := in.fsys.chain.ReadEntry(clst)
			if err != nil {
				return done, err
			}
			clst = next
			in.seekOffset = cur
			in.seekClst = clst
			in.seekValid = true
		}
	}
	return done, nil
}

// seekTo resolves the cluster holding cluster index targetIdx, using
// the cached (offset, cluster) pair when it is on the path to avoid
// re-walking from first_cluster (spec §9).
func (in *Inode) seekTo(targetIdx int) (uint32, error) {
	clusterSize := in.fsys.geom.ClusterSize
	startIdx := 0
	clst := in.firstCluster
	if in.seekValid {
		cachedIdx := int(in.seekOffset / clusterSize)
		if cachedIdx <= targetIdx {
			startIdx = cachedIdx
			clst = in.seekClst
		}
	}
	for i := startIdx; i < targetIdx; i++ {
		if clst == 0 || in.fsys.chain.IsEOF(clst) {
			return 0, nil
		}
		next, err := in.fsys.chain.ReadEntry(clst)
		if err != nil {
			return 0, err
		}
		clst = next
	}
	return clst, nil
}

// invalidateSeek drops the cached (offset, cluster) pair, required
// after any Truncate (spec §4.G Truncate "the seek cache is
// invalidated").
func (in *Inode) invalidateSeek() {
	in.seekValid = false
	in.seekOffset = 0
	in.seekClst = 0
}

// Truncate grows or shrinks the file to newSize (spec §4.G Truncate).
func (in *Inode) Truncate(newSize uint32) error {
	if in.isDir {
		return ErrIsADirectory
	}
	if err := in.fsys.checkWritable(); err != nil {
		return err
	}
	geom := in.fsys.geom
	// A non-root inode always owns at least its identity cluster (spec
	// §4.F zero-length file fix-up), regardless of what its byte size
	// alone would imply.
	oldClusters := clustersFor(in.size, geom.ClusterSize)
	if oldClusters == 0 {
		oldClusters = 1
	}
	newClusters := clustersFor(newSize, geom.ClusterSize)
	if newClusters == 0 {
		newClusters = 1
	}

	var err error
	switch {
	case newClusters > oldClusters:
		err = in.growChain(oldClusters, newClusters)
	case newClusters < oldClusters:
		err = in.shrinkChain(oldClusters, newClusters)
	}
	if err != nil {
		return err
	}

	in.size = newSize
	in.invalidateSeek()
	return in.writeSize(newSize)
}

func clustersFor(size, clusterSize uint32) int {
	if size == 0 {
		return 0
	}
	return int((size + clusterSize - 1) / clusterSize)
}

// growChain appends clusters until the chain has want total clusters.
// have is always >= 1 (every non-root inode owns its identity cluster).
// Each new cluster is zeroed, then written EOF, then linked from its
// predecessor (spec §4.A, §4.G Truncate growing).
func (in *Inode) growChain(have, want int) error {
	last := in.firstCluster
	for i := 0; i < have-1; i++ {
		next, err := in.fsys.chain.ReadEntry(last)
		if err != nil {
			return err
		}
		last = next
	}
	for i := have; i < want; i++ {
		clst, err := in.fsys.chain.Allocate()
		if err != nil {
			return err
		}
		if err := zeroCluster(in.fsys, clst); err != nil {
			return err
		}
		if err := in.fsys.chain.WriteEntry(clst, in.fsys.chain.EOC()); err != nil {
			return err
		}
		if err := in.fsys.chain.WriteEntry(last, clst); err != nil {
			return err
		}
		last = clst
	}
	return nil
}

// shrinkChain frees the tail of the chain after marking the new last
// cluster EOF, so a crash mid-shrink never leaves a dangling pointer
// (spec §4.A, §4.G Truncate shrinking).
func (in *Inode) shrinkChain(have, want int) error {
	if want < 1 {
		want = 1
	}
	clst := in.firstCluster
	for i := 0; i < want-1; i++ {
		next, err := in.fsys.chain.ReadEntry(clst)
		if err != nil {
			return err
		}
		clst = next
	}
	tail, err := in.fsys.chain.ReadEntry(clst)
	if err != nil {
		return err
	}
	if err := in.fsys.chain.WriteEntry(clst, in.fsys.chain.EOC()); err != nil {
		return err
	}
	for tail != 0 && !in.fsys.chain.IsEOF(tail) {
		next, err := in.fsys.chain.ReadEntry(tail)
		if err != nil {
			return err
		}
		if err := in.fsys.chain.WriteEntry(tail, 0); err != nil {
			return err
		}
		in.fsys.chain.Free(tail)
		tail = next
	}
	return nil
}

func (in *Inode) writeSize(size uint32) error {
	if in.dirent == nil {
		return nil // root, or a synthetic inode with no backing slot
	}
	if err := in.fsys.cache.BeginWrite(in.dataBlock); err != nil {
		return err
	}
	in.dirent.SetSize(size)
	in.fsys.cache.FinishWrite(in.dataBlock)
	return nil
}

func (in *Inode) touchModified() {
	if in.dirent == nil {
		return
	}
	date, tod := direntry.DOSDateTime(time.Now().UTC())
	if in.fsys.cache.BeginWrite(in.dataBlock) != nil {
		return
	}
	in.dirent.SetModDate(date)
	in.dirent.SetModTime(tod)
	in.fsys.cache.FinishWrite(in.dataBlock)
}

const (
	utimeOmit = -2
	utimeNow  = -1
)

// UTimens sets mtime/atime honoring UTIME_NOW (utimeNow) and UTIME_OMIT
// (utimeOmit) per operand (spec §4.G Timestamps).
func (in *Inode) UTimens(atime, mtime time.Time, atimeSpecial, mtimeSpecial int) error {
	if in.dirent == nil {
		return nil
	}
	if err := in.fsys.checkWritable(); err != nil {
		return err
	}
	if err := in.fsys.cache.BeginWrite(in.dataBlock); err != nil {
		return err
	}
	if mtimeSpecial != utimeOmit {
		t := mtime
		if mtimeSpecial == utimeNow {
			t = time.Now().UTC()
		}
		date, tod := direntry.DOSDateTime(t)
		in.dirent.SetModDate(date)
		in.dirent.SetModTime(tod)
	}
	if atimeSpecial != utimeOmit {
		t := atime
		if atimeSpecial == utimeNow {
			t = time.Now().UTC()
		}
		date, _ := direntry.DOSDateTime(t)
		in.dirent.SetAccessDate(date)
	}
	in.fsys.cache.FinishWrite(in.dataBlock)
	return nil
}
