package fatfs

// Context holds a per-request identity. The reference implementation keeps
// request_uid/request_gid as globals (spec §9). No core operation takes a
// Context: the owner fatfs reports comes from Config.UID/GID, exposed
// through Filesystem.UID()/GID().
type Context struct {
	UID uint32
	GID uint32
}
