// Package fuseadapter exposes a mounted fatfs.Filesystem over FUSE using
// hanwen/go-fuse's node API. It is a thin translation layer: every method
// here does nothing but convert FUSE's calling convention to the core
// operations of the parent package and map an fatfs.Errno back to a
// syscall.Errno. No filesystem logic lives here.
package fuseadapter

import (
	"context"
	"sort"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/halfpenny/fatfs"
	"github.com/halfpenny/fatfs/internal/direntry"
)

// Node wraps one fatfs.Inode as a FUSE tree node (spec §6).
type Node struct {
	fs.Inode

	fsys *fatfs.Filesystem
	in   *fatfs.Inode
}

var _ fs.InodeEmbedder = (*Node)(nil)

// Root builds the FUSE root node for a mounted filesystem.
func Root(fsys *fatfs.Filesystem) *Node {
	return &Node{fsys: fsys, in: fsys.Root()}
}

// Mount starts serving fsys at mountpoint until the returned server is
// unmounted, the way cmd/fatfsmount's runMount does.
func Mount(mountpoint string, fsys *fatfs.Filesystem) (*fuse.Server, error) {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: "fatfs",
			Name:   "fatfs",
		},
	}
	if fsys.ReadOnly() {
		opts.MountOptions.Options = append(opts.MountOptions.Options, "ro")
	}
	server, err := fs.Mount(mountpoint, Root(fsys), opts)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// errno maps an fatfs.Errno (or a wrapped instance of one) to the nearest
// syscall.Errno, the translation FUSE handlers are required to return
// (spec §7).
func errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch {
	case fatfs.IsErrno(err, fatfs.ErrNoSuchEntry):
		return syscall.ENOENT
	case fatfs.IsErrno(err, fatfs.ErrAlreadyExists):
		return syscall.EEXIST
	case fatfs.IsErrno(err, fatfs.ErrNotADirectory):
		return syscall.ENOTDIR
	case fatfs.IsErrno(err, fatfs.ErrIsADirectory):
		return syscall.EISDIR
	case fatfs.IsErrno(err, fatfs.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case fatfs.IsErrno(err, fatfs.ErrReadOnlyFilesystem):
		return syscall.EROFS
	case fatfs.IsErrno(err, fatfs.ErrNoSpace):
		return syscall.ENOSPC
	case fatfs.IsErrno(err, fatfs.ErrFileTooLarge):
		return syscall.EFBIG
	case fatfs.IsErrno(err, fatfs.ErrInvalidName):
		return syscall.EINVAL
	case fatfs.IsErrno(err, fatfs.ErrNotSupported):
		return syscall.ENOTSUP
	case fatfs.IsErrno(err, fatfs.ErrPermission):
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}

func (n *Node) statToAttr(st fatfs.Stat, out *fuse.Attr) {
	out.Ino = uint64(st.InodeID)
	out.Size = uint64(st.Size)
	mode := uint32(0644)
	if st.IsDir {
		mode = 0755 | syscall.S_IFDIR
	} else {
		mode |= syscall.S_IFREG
	}
	if st.ReadOnly {
		mode &^= 0222
	}
	out.Mode = mode
	out.Owner = fuse.Owner{Uid: n.fsys.UID(), Gid: n.fsys.GID()}
	out.SetTimes(&st.AccTime, &st.ModTime, &st.ModTime)
}

// Getattr fills FUSE's cached attribute view from the inode's stat data
// (spec §6 stat).
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st := n.in.Stat()
	n.statToAttr(st, &out.Attr)
	return 0
}

// Setattr applies size and time changes (spec §6 truncate, utimens).
// Times are applied only when an mtime is supplied. Mode and owner
// changes are accepted but have no effect: the read-only attribute bit
// is not changed and a chown to another owner does not fail.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if sz, ok := in.GetSize(); ok {
		if err := n.in.Truncate(uint32(sz)); err != nil {
			return errno(err)
		}
	}
	if mtime, ok := in.GetMTime(); ok {
		atime, aok := in.GetATime()
		if !aok {
			atime = time.Now()
		}
		if err := n.in.UTimens(atime, mtime, 0, 0); err != nil {
			return errno(err)
		}
	}
	st := n.in.Stat()
	n.statToAttr(st, &out.Attr)
	return 0
}

// Lookup resolves name within a directory node (spec §6 open's path
// resolution).
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, err := n.fsys.Open(n.in, name, 0, 0)
	if err != nil {
		return nil, errno(err)
	}
	st := child.Stat()
	n.statToAttr(st, &out.Attr)
	mode := uint32(syscall.S_IFREG)
	if child.IsDir() {
		mode = syscall.S_IFDIR
	}
	childNode := &Node{fsys: n.fsys, in: child}
	return n.NewInode(ctx, childNode, fs.StableAttr{Mode: mode, Ino: uint64(child.ID())}), 0
}

type dirStream struct {
	entries []fuse.DirEntry
	idx     int
}

func (s *dirStream) HasNext() bool { return s.idx < len(s.entries) }
func (s *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e := s.entries[s.idx]
	s.idx++
	return e, 0
}
func (s *dirStream) Close() {}

// Readdir lists a directory's entries (spec §6 readdir).
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	ents, err := n.fsys.Readdir(n.in)
	if err != nil {
		return nil, errno(err)
	}
	out := make([]fuse.DirEntry, 0, len(ents))
	for _, e := range ents {
		mode := uint32(syscall.S_IFREG)
		if e.Attr&direntry.AttrDirectory != 0 {
			mode = syscall.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Ino: uint64(e.Cluster), Mode: mode})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return &dirStream{entries: out}, 0
}

// Mkdir creates a subdirectory (spec §6 mkdir).
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, err := n.fsys.Open(n.in, name, fatfs.OCreat|fatfs.ODirectory, mode|0040000)
	if err != nil {
		return nil, errno(err)
	}
	st := child.Stat()
	n.statToAttr(st, &out.Attr)
	childNode := &Node{fsys: n.fsys, in: child}
	return n.NewInode(ctx, childNode, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: uint64(child.ID())}), 0
}

// Create creates a regular file and opens it in one call (spec §6 open
// with O_CREAT).
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child, err := n.fsys.Open(n.in, name, fatfs.OCreat|fatfs.OExcl|fatfs.OWrite, mode)
	if err != nil {
		return nil, nil, 0, errno(err)
	}
	child.RefRemote()
	st := child.Stat()
	n.statToAttr(st, &out.Attr)
	childNode := &Node{fsys: n.fsys, in: child}
	inode := n.NewInode(ctx, childNode, fs.StableAttr{Mode: syscall.S_IFREG, Ino: uint64(child.ID())})
	return inode, childNode, 0, 0
}

// Unlink removes a regular file (spec §6 unlink).
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errno(n.fsys.Unlink(n.in, name, false, false))
}

// Rmdir removes an empty subdirectory (spec §6 rmdir).
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errno(n.fsys.Unlink(n.in, name, true, false))
}

// Rename moves an entry, possibly across directories (spec §6 rename).
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dst, ok := newParent.(*Node)
	if !ok {
		return syscall.EXDEV
	}
	return errno(n.fsys.Rename(n.in, name, dst.in, newName))
}

// Link passes a link request to the core (spec §6 link). The core
// refuses any target that already has a directory entry, so an existing
// file does not gain a second name.
func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	src, ok := target.(*Node)
	if !ok {
		return nil, syscall.EXDEV
	}
	if err := n.fsys.Link(n.in, name, src.in, false); err != nil {
		return nil, errno(err)
	}
	st := src.in.Stat()
	n.statToAttr(st, &out.Attr)
	return src.EmbeddedInode(), 0
}

// Symlink always fails: FAT has no symbolic link representation (spec §6
// symlink "always fails").
func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.ENOTSUP
}

// Open takes a remote reference and returns the Node itself as the file
// handle that backs read/write/fsync/release calls, since every byte range operation already takes the
// offset it needs and the core tracks no other per-handle state (spec §6
// notes fatfs has no distinct struct file).
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.in.RefRemote()
	return n, 0, 0
}

func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nread, err := n.in.Read(dest, uint32(off))
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:nread]), 0
}

func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	nwritten, err := n.in.Write(data, uint32(off))
	if err != nil {
		return uint32(nwritten), errno(err)
	}
	return uint32(nwritten), 0
}

// Fsync is a no-op beyond the filesystem-wide Sync FUSE's FsyncFS also
// triggers: fatfs has no per-file dirty tracking distinct from the shared
// block cache (spec §4.A, §6 fsync).
func (n *Node) Fsync(ctx context.Context, f fs.FileHandle, flags uint32) syscall.Errno {
	return errno(n.fsys.Sync())
}

// Release drops the remote reference an Open or Create acquired (spec §6
// release, §9 dual refcount).
func (n *Node) Release(ctx context.Context, f fs.FileHandle) syscall.Errno {
	n.in.UnrefRemote()
	return 0
}

// Statfs reports volume-wide statistics (spec §6 statfs).
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st := n.fsys.Statfs()
	out.Bsize = st.BlockSize
	out.Blocks = st.TotalBlocks
	out.Bfree = st.FreeBlocks
	out.Bavail = st.FreeBlocks
	out.NameLen = st.NameMax
	return 0
}

var (
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeRenamer   = (*Node)(nil)
	_ fs.NodeLinker    = (*Node)(nil)
	_ fs.NodeSymlinker = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeReader    = (*Node)(nil)
	_ fs.NodeWriter    = (*Node)(nil)
	_ fs.NodeFsyncer   = (*Node)(nil)
	_ fs.NodeReleaser  = (*Node)(nil)
	_ fs.NodeStatfser  = (*Node)(nil)
)
