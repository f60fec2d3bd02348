// Package direntry implements the FAT directory entry codec (spec §4.E):
// 8.3 short names, VFAT long-name (LFN) slots, and the directory
// iterator that walks a sequence of 32-byte slots (spec §4.F).
//
// On-disk field offsets follow original_source/fat/fat.h's struct
// fat_dirent, which this spec was distilled from.
package direntry

import (
	"encoding/binary"
	"time"
)

// Size of one directory slot on disk.
const SlotSize = 32

// Attribute bits (spec §3).
const (
	AttrReadOnly  = 1 << 0
	AttrHidden    = 1 << 1
	AttrSystem    = 1 << 2
	AttrVolumeID  = 1 << 3
	AttrDirectory = 1 << 4
	AttrArchive   = 1 << 5

	AttrLongName     = 0x0F // attributes byte value marking an LFN slot
	AttrLongNameMask = 0x3F
)

// Reserved-byte lowercase hint bits (read for interop, never written).
const (
	ReservedLowerBase = 1 << 3
	ReservedLowerExt  = 1 << 4
)

const (
	freeNone     = 0x00 // end of directory: no further used entries follow
	freeDeleted  = 0xE5 // previously used, now free
	replacement5 = 0x05 // 0xE5 substitute when the name legitimately starts with 0xE5
)

// Regular (8.3) slot field offsets within the 32-byte record.
const (
	offName         = 0
	offAttr         = 11
	offReserved     = 12
	offCreateCentis = 13
	offCreateTime   = 14
	offCreateDate   = 16
	offAccessDate   = 18
	offClusterHi    = 20
	offModTime      = 22
	offModDate      = 24
	offClusterLo    = 26
	offSize         = 28
)

// LFN slot field offsets.
const (
	offOrd       = 0
	offLFNName1  = 1  // 5 UTF-16 code units
	offLFNAttr   = 11 // always AttrLongName
	offLFNType   = 12 // always 0
	offLFNSum    = 13
	offLFNName2  = 14 // 6 UTF-16 code units
	offLFNZero   = 26
	offLFNName3  = 28 // 2 UTF-16 code units
)

const (
	// LastLongEntry flags the highest ordinal of an LFN sequence.
	LastLongEntry = 0x40
	OrdMask       = 0x3F
)

// Raw is one 32-byte directory slot, addressed in place inside a cached
// block so metadata updates are one memcpy (spec §9 "in-place dirent
// pointer").
type Raw []byte

// Kind classifies the first byte of a slot.
type Kind uint8

const (
	KindEnd      Kind = iota // 0x00: free, no further used entries follow
	KindFree                 // 0xE5: free, previously used
	KindLongName             // LFN slot (attributes == AttrLongName)
	KindShort                // regular 8.3 record
)

func (r Raw) Kind() Kind {
	switch r[0] {
	case freeNone:
		return KindEnd
	case freeDeleted:
		return KindFree
	}
	if r[offAttr] == AttrLongName {
		return KindLongName
	}
	return KindShort
}

// --- regular (8.3) record accessors ---

func (r Raw) ShortName() [11]byte {
	var n [11]byte
	copy(n[:], r[offName:offName+11])
	return n
}

func (r Raw) SetShortName(n [11]byte) { copy(r[offName:offName+11], n[:]) }

func (r Raw) Attr() uint8       { return r[offAttr] }
func (r Raw) SetAttr(a uint8)   { r[offAttr] = a }
func (r Raw) Reserved() uint8   { return r[offReserved] }
func (r Raw) SetReserved(v uint8) { r[offReserved] = v }

func (r Raw) Cluster() uint32 {
	hi := binary.LittleEndian.Uint16(r[offClusterHi:])
	lo := binary.LittleEndian.Uint16(r[offClusterLo:])
	return uint32(hi)<<16 | uint32(lo)
}

func (r Raw) SetCluster(c uint32) {
	binary.LittleEndian.PutUint16(r[offClusterHi:], uint16(c>>16))
	binary.LittleEndian.PutUint16(r[offClusterLo:], uint16(c))
}

func (r Raw) Size() uint32        { return binary.LittleEndian.Uint32(r[offSize:]) }
func (r Raw) SetSize(sz uint32)   { binary.LittleEndian.PutUint32(r[offSize:], sz) }

func (r Raw) CreateDate() uint16      { return binary.LittleEndian.Uint16(r[offCreateDate:]) }
func (r Raw) CreateTime() uint16      { return binary.LittleEndian.Uint16(r[offCreateTime:]) }
func (r Raw) CreateCentis() uint8     { return r[offCreateCentis] }
func (r Raw) AccessDate() uint16      { return binary.LittleEndian.Uint16(r[offAccessDate:]) }
func (r Raw) ModDate() uint16         { return binary.LittleEndian.Uint16(r[offModDate:]) }
func (r Raw) ModTime() uint16         { return binary.LittleEndian.Uint16(r[offModTime:]) }

func (r Raw) SetCreateDate(v uint16)  { binary.LittleEndian.PutUint16(r[offCreateDate:], v) }
func (r Raw) SetCreateTime(v uint16)  { binary.LittleEndian.PutUint16(r[offCreateTime:], v) }
func (r Raw) SetCreateCentis(v uint8) { r[offCreateCentis] = v }
func (r Raw) SetAccessDate(v uint16)  { binary.LittleEndian.PutUint16(r[offAccessDate:], v) }
func (r Raw) SetModDate(v uint16)     { binary.LittleEndian.PutUint16(r[offModDate:], v) }
func (r Raw) SetModTime(v uint16)     { binary.LittleEndian.PutUint16(r[offModTime:], v) }

// --- LFN record accessors ---

func (r Raw) Ordinal() uint8    { return r[offOrd] }
func (r Raw) SetOrdinal(o uint8) { r[offOrd] = o }
func (r Raw) IsLastLFN() bool   { return r[offOrd]&LastLongEntry != 0 }
func (r Raw) LFNChecksum() uint8 { return r[offLFNSum] }
func (r Raw) SetLFNChecksum(s uint8) { r[offLFNSum] = s }

// LFNUnits returns the 13 UTF-16 code units this slot carries, packed in
// the standard 5+6+2 layout.
func (r Raw) LFNUnits() [13]uint16 {
	var u [13]uint16
	for i := 0; i < 5; i++ {
		u[i] = binary.LittleEndian.Uint16(r[offLFNName1+2*i:])
	}
	for i := 0; i < 6; i++ {
		u[5+i] = binary.LittleEndian.Uint16(r[offLFNName2+2*i:])
	}
	for i := 0; i < 2; i++ {
		u[11+i] = binary.LittleEndian.Uint16(r[offLFNName3+2*i:])
	}
	return u
}

func (r Raw) SetLFNUnits(u [13]uint16) {
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(r[offLFNName1+2*i:], u[i])
	}
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(r[offLFNName2+2*i:], u[5+i])
	}
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint16(r[offLFNName3+2*i:], u[11+i])
	}
}

func (r Raw) InitLFN() {
	r[offAttr] = AttrLongName
	r[offLFNType] = 0
	binary.LittleEndian.PutUint16(r[offLFNZero:], 0)
}

func (r Raw) Clear() {
	for i := range r {
		r[i] = 0
	}
}

func (r Raw) MarkFree()    { r[0] = freeDeleted }
func (r Raw) MarkEnd()     { r[0] = freeNone }

// --- DOS date/time (spec §4.G Timestamps) ---

// DOSDateTime encodes t (interpreted in UTC) as the FAT date/time pair:
// date = day | (month<<5) | ((year-1980)<<9); time = (sec/2) | (min<<5) | (hour<<11).
func DOSDateTime(t time.Time) (date, timeOfDay uint16) {
	t = t.UTC()
	year := t.Year()
	if year < 1980 {
		year = 1980
	}
	date = uint16(t.Day()) | uint16(t.Month())<<5 | uint16(year-1980)<<9
	timeOfDay = uint16(t.Second()/2) | uint16(t.Minute())<<5 | uint16(t.Hour())<<11
	return date, timeOfDay
}

// TimeFromDOS decodes a FAT date/time pair into a UTC time.Time.
func TimeFromDOS(date, timeOfDay uint16) time.Time {
	day := int(date & 0x1F)
	month := int((date >> 5) & 0xF)
	year := 1980 + int(date>>9)
	hour := int(timeOfDay >> 11)
	min := int((timeOfDay >> 5) & 0x3F)
	sec := int(timeOfDay&0x1F) * 2
	if day == 0 {
		day = 1
	}
	if month == 0 {
		month = 1
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}
