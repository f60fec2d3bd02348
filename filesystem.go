// Package fatfs implements a user-space FAT12/16/32 filesystem driver:
// the inode and directory operations (spec §4.G, §4.H) sitting on top of
// internal/block, internal/bpb, internal/fatchain, and internal/direntry.
package fatfs

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/halfpenny/fatfs/internal/block"
	"github.com/halfpenny/fatfs/internal/bpb"
	"github.com/halfpenny/fatfs/internal/direntry"
	"github.com/halfpenny/fatfs/internal/fatchain"
)

// Mode selects the access mode a mount is opened with.
type Mode uint8

const (
	ModeReadOnly Mode = iota
	ModeReadWrite
)

// Filesystem is the top-level mounted object: it owns the Device, the
// inode hash, the dirty-block list (via the block cache), the mount-clean
// flag, and exposes the root inode (spec §4.H).
type Filesystem struct {
	cache *block.Cache
	geom  bpb.Geometry
	chain *fatchain.Chain

	bpbBlock *block.Block
	bpbDirty bool

	readOnly     bool
	requestCheck bool
	checkErrs    *multierror.Error

	uid, gid uint32
	log      *slog.Logger

	inodes map[uint32]*Inode
	root   *Inode
}

// Config gathers the mount-time inputs exposed via an adapter (spec §6).
type Config struct {
	Mode        Mode
	CacheBytes  int64 // block cache byte budget; divided by sector size for capacity
	UID, GID    uint32
	Log         *slog.Logger
}

const minCacheSectors = 8

// Mount parses the BPB at LBA 0, opens the device cache, and constructs
// the root inode (spec §4.H).
func Mount(dev BlockDevice, sectorSize int, cfg Config) (*Filesystem, error) {
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	readOnly := cfg.Mode == ModeReadOnly

	boot := make([]byte, sectorSize)
	if err := dev.ReadSector(boot, 0); err != nil {
		return nil, fmt.Errorf("fatfs: mount: reading boot sector: %w", err)
	}
	geom, err := bpb.Parse(boot)
	if err != nil {
		return nil, fmt.Errorf("fatfs: mount: %w", err)
	}
	if uint32(sectorSize) != geom.BytesPerSector {
		return nil, fmt.Errorf("fatfs: mount: configured sector size %d does not match on-disk %d", sectorSize, geom.BytesPerSector)
	}

	capacity := int(cfg.CacheBytes) / sectorSize
	if capacity < minCacheSectors {
		capacity = minCacheSectors
	}
	cache, err := block.New(dev, sectorSize, capacity, readOnly, cfg.Log)
	if err != nil {
		return nil, err
	}

	bpbBlock, err := cache.Get(0)
	if err != nil {
		return nil, fmt.Errorf("fatfs: mount: pinning BPB block: %w", err)
	}

	freeCount, nextFree := bpb.Unknown, uint32(2)
	var fsinfoLBA block.LBA
	if geom.Type == bpb.FAT32 && geom.FSInfoSector != 0 {
		fsinfoLBA = block.LBA(geom.FSInfoSector)
		fb, err := cache.Get(fsinfoLBA)
		if err != nil {
			return nil, fmt.Errorf("fatfs: mount: reading FSINFO: %w", err)
		}
		info := bpb.ParseFSInfo(fb.Bytes())
		cache.Put(fb)
		if info.Plausible(geom.ClusterCount) {
			freeCount, nextFree = info.FreeCount, info.NextFree
		}
	}

	chain := fatchain.New(cache, geom, freeCount, nextFree)
	if fsinfoLBA != 0 {
		chain.SetFSInfoLBA(fsinfoLBA)
	}

	fsys := &Filesystem{
		cache:    cache,
		geom:     geom,
		chain:    chain,
		bpbBlock: bpbBlock,
		readOnly: readOnly,
		uid:      cfg.UID,
		gid:      cfg.GID,
		log:      cfg.Log,
		inodes:   make(map[uint32]*Inode),
	}

	clean, err := chain.MountCleanFlag()
	if err != nil {
		fsys.log.Warn("fatfs: could not read mount-clean flag", "error", err)
	} else if !clean {
		fsys.log.Warn("fatfs: mounting filesystem that was not cleanly unmounted")
	}

	if !readOnly {
		if err := chain.SetMountCleanFlag(false); err != nil {
			return nil, fmt.Errorf("fatfs: mount: clearing clean flag: %w", err)
		}
		if err := cache.Sync(); err != nil {
			return nil, fmt.Errorf("fatfs: mount: syncing dirty flag: %w", err)
		}
	}

	fsys.root = fsys.newRootInode()
	return fsys, nil
}

// Geometry returns the volume geometry fixed at mount.
func (fsys *Filesystem) Geometry() bpb.Geometry { return fsys.geom }

// Root returns the filesystem's root inode. It is the only inode with a
// nil parent (spec §3).
func (fsys *Filesystem) Root() *Inode { return fsys.root }

// UID and GID report the mount-wide owner fatfs reports for every entry,
// since FAT carries no per-file owner (spec §6 stat: "uid/gid ... mount
// time options", matching vfat's uid=/gid= mount options).
func (fsys *Filesystem) UID() uint32 { return fsys.uid }
func (fsys *Filesystem) GID() uint32 { return fsys.gid }

// ReadOnly reports whether the mount disallows mutation.
func (fsys *Filesystem) ReadOnly() bool { return fsys.readOnly || fsys.requestCheck }

// RequestCheck reports whether corruption has been observed since mount.
func (fsys *Filesystem) RequestCheck() bool { return fsys.requestCheck }

// raiseRequestCheck flags request_check without failing the calling
// operation (spec §7): minor inconsistencies like orphaned LFN slots are
// logged and left for the next fsck run.
func (fsys *Filesystem) raiseRequestCheck(reason string, err error) {
	fsys.requestCheck = true
	if err != nil {
		fsys.checkErrs = multierror.Append(fsys.checkErrs, fmt.Errorf("%s: %w", reason, err))
	} else {
		fsys.checkErrs = multierror.Append(fsys.checkErrs, fmt.Errorf("%s", reason))
	}
	fsys.log.Warn("fatfs: request_check raised", "reason", reason)
}

// Corrupted is an irreversible downgrade: raises request_check and flips
// the device to read-only for the remainder of the mount (spec §4.H).
func (fsys *Filesystem) Corrupted(reason string, err error) {
	fsys.raiseRequestCheck(reason, err)
	fsys.cache.SetReadOnly(true)
}

func (fsys *Filesystem) checkWritable() error {
	if fsys.ReadOnly() {
		return ErrReadOnlyFilesystem
	}
	return nil
}

// newRootDir constructs a direntry.Dir over the root directory.
func (fsys *Filesystem) newRootDir() *direntry.Dir {
	d := direntry.NewRoot(fsys.cache, fsys.chain, fsys.geom)
	d.RequestCheck = func(reason string) { fsys.raiseRequestCheck(reason, nil) }
	return d
}

// newSubDir constructs a direntry.Dir over a subdirectory's cluster chain.
func (fsys *Filesystem) newSubDir(firstCluster uint32) *direntry.Dir {
	d := direntry.NewSub(fsys.cache, fsys.chain, fsys.geom, firstCluster)
	d.RequestCheck = func(reason string) { fsys.raiseRequestCheck(reason, nil) }
	return d
}

func (fsys *Filesystem) dirFor(inode *Inode) *direntry.Dir {
	if inode == fsys.root {
		return fsys.newRootDir()
	}
	return fsys.newSubDir(inode.firstCluster)
}

// newRootInode creates the filesystem root inode at mount.
func (fsys *Filesystem) newRootInode() *Inode {
	in := &Inode{
		fsys:         fsys,
		id:           fsys.geom.RootInodeID,
		firstCluster: fsys.geom.RootInodeID,
		isDir:        true,
		localRefs:    1,
		attr:         direntry.AttrDirectory,
	}
	if fsys.geom.Type != bpb.FAT32 {
		// FAT12/16 root has no cluster of its own; cluster field stays
		// equal to the synthetic inode id 1 but is never used to walk a
		// FAT chain (the Dir for it is fixedRoot).
		in.firstCluster = 1
	}
	fsys.inodes[in.id] = in
	return in
}

// lookupCachedInode returns the cached inode for id, if any, bumping its
// local reference count.
func (fsys *Filesystem) lookupCachedInode(id uint32) *Inode {
	in, ok := fsys.inodes[id]
	if !ok {
		return nil
	}
	in.localRefs++
	return in
}

// createInode returns the cached inode for firstCluster if present
// (spec §4.H create_inode), otherwise builds a new one bound to the
// directory-entry slot described by dataBlock/dirent, referencing
// parent.
func (fsys *Filesystem) createInode(firstCluster uint32, parent *Inode, isDir bool, dataBlock *block.Block, dirent direntry.Raw) *Inode {
	if in := fsys.lookupCachedInode(firstCluster); in != nil {
		fsys.cache.Put(dataBlock)
		return in
	}
	in := &Inode{
		fsys:         fsys,
		id:           firstCluster,
		firstCluster: firstCluster,
		parent:       parent,
		isDir:        isDir,
		dataBlock:    dataBlock,
		dirent:       dirent,
		localRefs:    1,
		attr:         dirent.Attr(),
		size:         dirent.Size(),
	}
	parent.localRefs++
	fsys.inodes[firstCluster] = in
	return in
}

// forgetInode removes in from the hash once both its local and remote
// reference counts have reached zero.
func (fsys *Filesystem) forgetInode(in *Inode) {
	delete(fsys.inodes, in.id)
}

// Sync commits every dirty block, then the FSINFO sector and the BPB
// (spec §4.A sync, §4.D WriteInfo). Errors are aggregated into
// request_check rather than abandoning the sync partway (spec §4.A).
func (fsys *Filesystem) Sync() error {
	if err := fsys.chain.WriteInfo(); err != nil {
		fsys.raiseRequestCheck("writing FSINFO", err)
	}
	if err := fsys.cache.Sync(); err != nil {
		fsys.raiseRequestCheck("device sync", err)
		return err
	}
	return nil
}

// StatFS mirrors the POSIX statfs(2) fields this filesystem reports
// (spec §6).
type StatFS struct {
	BlockSize   uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	NameMax     uint32
	ReadOnly    bool
}

// Statfs reports aggregate volume statistics. Per spec §9's open
// question, it returns the cached free-cluster hint rather than always
// walking the FAT; call RecomputeFreeCount first if the hint is
// bpb.Unknown or an exact count is required.
func (fsys *Filesystem) Statfs() StatFS {
	free := fsys.chain.FreeCount()
	if free == bpb.Unknown {
		free = 0
	}
	return StatFS{
		BlockSize:   fsys.geom.ClusterSize,
		TotalBlocks: uint64(fsys.geom.ClusterCount),
		FreeBlocks:  uint64(free),
		NameMax:     255,
		ReadOnly:    fsys.ReadOnly(),
	}
}

// RecomputeFreeCount forces a full FAT walk to refresh the free-cluster
// hint (spec §4.D CalculateFreeCount).
func (fsys *Filesystem) RecomputeFreeCount() (uint32, error) {
	return fsys.chain.CalculateFreeCount()
}

// Unmount syncs all dirty state and, if the mount was writable and no
// corruption was observed, marks the filesystem clean (spec §4.H).
func (fsys *Filesystem) Unmount() error {
	syncErr := fsys.Sync()

	if !fsys.readOnly && !fsys.requestCheck {
		if err := fsys.chain.SetMountCleanFlag(true); err != nil {
			fsys.raiseRequestCheck("restoring clean flag", err)
		} else if err := fsys.cache.Sync(); err != nil {
			fsys.raiseRequestCheck("final sync", err)
		}
	}

	fsys.cache.Put(fsys.bpbBlock)

	for id, in := range fsys.inodes {
		if in.localRefs > 0 || in.remoteRefs > 0 {
			fsys.log.Warn("fatfs: inode still referenced at unmount", "inode", id,
				"local_refs", in.localRefs, "remote_refs", in.remoteRefs)
		}
	}
	fsys.inodes = nil

	if fsys.requestCheck && fsys.checkErrs != nil {
		return fsys.checkErrs.ErrorOrNil()
	}
	return syncErr
}
