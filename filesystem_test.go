package fatfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halfpenny/fatfs/internal/direntry"
)

func newTestFS(t *testing.T) *Filesystem {
	t.Helper()
	dev := buildFAT12Image(512, 200)
	fsys := mustMount(dev, 512)
	t.Cleanup(func() { fsys.Unmount() })
	return fsys
}

// skipDotEntries drops the "." and ".." records every FAT directory
// carries (synthesized for the root, stored on disk for subdirectories),
// leaving only entries an ls would show.
func skipDotEntries(entries []*direntry.Entry) []*direntry.Entry {
	var out []*direntry.Entry
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, e)
	}
	return out
}

func TestMountEmptyVolume(t *testing.T) {
	fsys := newTestFS(t)
	require.False(t, fsys.ReadOnly())
	require.False(t, fsys.RequestCheck())

	entries, err := fsys.Readdir(fsys.Root())
	require.NoError(t, err)
	require.Empty(t, skipDotEntries(entries))
}

func TestCreateWriteReadFile(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root()

	in, err := fsys.Open(root, "HELLO.TXT", OCreat|OExcl|OWrite, 0644)
	require.NoError(t, err)
	require.False(t, in.IsDir())

	data := []byte("hello, fat world")
	n, err := in.Write(data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, uint32(len(data)), in.Size())

	buf := make([]byte, len(data))
	n, err = in.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, buf)
}

func TestOpenExclFailsWhenExists(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root()

	_, err := fsys.Open(root, "DUP.TXT", OCreat|OExcl|OWrite, 0644)
	require.NoError(t, err)

	_, err = fsys.Open(root, "DUP.TXT", OCreat|OExcl|OWrite, 0644)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestOpenWithoutCreateMissingFails(t *testing.T) {
	fsys := newTestFS(t)
	_, err := fsys.Open(fsys.Root(), "NOPE.TXT", 0, 0)
	require.ErrorIs(t, err, ErrNoSuchEntry)
}

func TestMkdirAndReaddir(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root()

	dir, err := fsys.Open(root, "SUBDIR", OCreat|OExcl|ODirectory, 0755|0040000)
	require.NoError(t, err)
	require.True(t, dir.IsDir())

	_, err = fsys.Open(dir, "INSIDE.TXT", OCreat|OExcl|OWrite, 0644)
	require.NoError(t, err)

	entries, err := fsys.Readdir(root)
	require.NoError(t, err)
	entries = skipDotEntries(entries)
	require.Len(t, entries, 1)
	require.Equal(t, "SUBDIR", entries[0].Name)

	inner, err := fsys.Readdir(dir)
	require.NoError(t, err)
	inner = skipDotEntries(inner)
	require.Len(t, inner, 1)
	require.Equal(t, "INSIDE.TXT", inner[0].Name)
}

func TestTruncateGrowAndShrink(t *testing.T) {
	fsys := newTestFS(t)
	in, err := fsys.Open(fsys.Root(), "BIG.BIN", OCreat|OExcl|OWrite, 0644)
	require.NoError(t, err)

	require.NoError(t, in.Truncate(4096))
	require.Equal(t, uint32(4096), in.Size())

	require.NoError(t, in.Truncate(10))
	require.Equal(t, uint32(10), in.Size())
}

func TestUnlinkRemovesEntry(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root()

	_, err := fsys.Open(root, "DEL.TXT", OCreat|OExcl|OWrite, 0644)
	require.NoError(t, err)

	require.NoError(t, fsys.Unlink(root, "DEL.TXT", false, false))

	_, err = fsys.Open(root, "DEL.TXT", 0, 0)
	require.ErrorIs(t, err, ErrNoSuchEntry)
}

func TestRenameMovesEntry(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root()

	in, err := fsys.Open(root, "OLD.TXT", OCreat|OExcl|OWrite, 0644)
	require.NoError(t, err)
	_, err = in.Write([]byte("payload"), 0)
	require.NoError(t, err)

	require.NoError(t, fsys.Rename(root, "OLD.TXT", root, "NEW.TXT"))

	_, err = fsys.Open(root, "OLD.TXT", 0, 0)
	require.ErrorIs(t, err, ErrNoSuchEntry)

	renamed, err := fsys.Open(root, "NEW.TXT", 0, 0)
	require.NoError(t, err)
	buf := make([]byte, len("payload"))
	_, err = renamed.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf))
}

func TestLongNameCollisionGetsSuffixed(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Root()

	names := []string{
		"this is a very long file name.txt",
		"this is a very long file name too.txt",
	}
	for _, n := range names {
		_, err := fsys.Open(root, n, OCreat|OExcl|OWrite, 0644)
		require.NoError(t, err)
	}

	entries, err := fsys.Readdir(root)
	require.NoError(t, err)
	entries = skipDotEntries(entries)
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Name] = true
	}
	for _, n := range names {
		require.True(t, seen[n], "missing %q among %v", n, entries)
	}
}

func TestStatfsReportsGeometry(t *testing.T) {
	fsys := newTestFS(t)
	st := fsys.Statfs()
	require.Equal(t, fsys.Geometry().ClusterSize, st.BlockSize)
	require.Equal(t, uint64(fsys.Geometry().ClusterCount), st.TotalBlocks)
}
