package bpb

import "encoding/binary"

// FSInfo signatures, named per original_source/fat/fat.h.
const (
	sigLead  = 0x41615252
	sigStruc = 0x61417272
	sigTrail = 0xAA550000

	offSigLead  = 0
	offSigStruc = 484
	offFreeCnt  = 488
	offNextFree = 492
	offSigTrail = 508

	// Unknown is the sentinel FSINFO value meaning "hint not available;
	// recompute by walking the FAT" (spec §4.D CalculateFreeCount).
	Unknown uint32 = 0xFFFFFFFF
)

// FSInfo is the FAT32-only auxiliary sector carrying free-cluster hints.
type FSInfo struct {
	FreeCount uint32
	NextFree  uint32
}

// ParseFSInfo reads the FSINFO sector. If the signatures don't match, the
// sector is not a valid FSINFO sector and the hints are reported Unknown
// rather than an error — a missing/corrupt FSINFO is not fatal to mount.
func ParseFSInfo(sector []byte) FSInfo {
	if len(sector) < 512 {
		return FSInfo{FreeCount: Unknown, NextFree: Unknown}
	}
	lead := binary.LittleEndian.Uint32(sector[offSigLead:])
	struc := binary.LittleEndian.Uint32(sector[offSigStruc:])
	trail := binary.LittleEndian.Uint32(sector[offSigTrail:])
	if lead != sigLead || struc != sigStruc || trail != sigTrail {
		return FSInfo{FreeCount: Unknown, NextFree: Unknown}
	}
	return FSInfo{
		FreeCount: binary.LittleEndian.Uint32(sector[offFreeCnt:]),
		NextFree:  binary.LittleEndian.Uint32(sector[offNextFree:]),
	}
}

// WriteFSInfo rewrites the signatures and hints into sector in place.
func WriteFSInfo(sector []byte, info FSInfo) {
	binary.LittleEndian.PutUint32(sector[offSigLead:], sigLead)
	binary.LittleEndian.PutUint32(sector[offSigStruc:], sigStruc)
	binary.LittleEndian.PutUint32(sector[offFreeCnt:], info.FreeCount)
	binary.LittleEndian.PutUint32(sector[offNextFree:], info.NextFree)
	binary.LittleEndian.PutUint32(sector[offSigTrail:], sigTrail)
}

// Plausible reports whether the hint values are usable as-is rather than
// requiring a full FAT walk (spec §4.D WriteInfo / §9 open question).
func (f FSInfo) Plausible(clusterCount uint32) bool {
	return f.FreeCount != Unknown && f.FreeCount <= clusterCount &&
		f.NextFree != Unknown && (f.NextFree == Unknown || f.NextFree < clusterCount+2)
}
