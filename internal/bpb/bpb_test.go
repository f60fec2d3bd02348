package bpb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildFAT16Sector constructs a minimal but valid FAT16 boot sector with
// the given total sector count and sectors-per-cluster.
func buildFAT16Sector(totalSectors uint32, secPerClus uint8) []byte {
	s := make([]byte, 512)
	s[bsJmpBoot] = 0xEB
	s[bsJmpBoot+2] = 0x90
	binary.LittleEndian.PutUint16(s[bpbBytsPerSec:], 512)
	s[bpbSecPerClus] = secPerClus
	binary.LittleEndian.PutUint16(s[bpbRsvdSecCnt:], 1)
	s[bpbNumFATs] = 2
	binary.LittleEndian.PutUint16(s[bpbRootEntCnt:], 512)
	if totalSectors > 0xFFFF {
		binary.LittleEndian.PutUint32(s[bpbTotSec32:], totalSectors)
	} else {
		binary.LittleEndian.PutUint16(s[bpbTotSec16:], uint16(totalSectors))
	}
	binary.LittleEndian.PutUint16(s[bpbFATSz16:], 32)
	s[bs55AA] = 0x55
	s[bs55AA+1] = 0xAA
	return s
}

func TestParseFAT16(t *testing.T) {
	sector := buildFAT16Sector(65600, 4)
	g, err := Parse(sector)
	require.NoError(t, err)
	require.Equal(t, FAT16, g.Type)
	require.Equal(t, uint32(512), g.BytesPerSector)
	require.Equal(t, uint32(2048), g.ClusterSize)
	require.Equal(t, uint32(1), g.RootInodeID)
	require.Greater(t, g.ClusterCount, uint32(4084))
}

func TestParseRejectsMissingBootSignature(t *testing.T) {
	sector := buildFAT16Sector(65600, 4)
	sector[bs55AA] = 0
	_, err := Parse(sector)
	require.Error(t, err)
}

func TestParseRejectsShortSector(t *testing.T) {
	_, err := Parse(make([]byte, 100))
	require.Error(t, err)
}

func TestParseRejectsBadSectorSize(t *testing.T) {
	sector := buildFAT16Sector(65600, 4)
	binary.LittleEndian.PutUint16(sector[bpbBytsPerSec:], 700)
	_, err := Parse(sector)
	require.Error(t, err)
}

func TestSentinelsVaryByType(t *testing.T) {
	g16 := Geometry{Type: FAT16}
	bad, eoc := g16.Sentinels()
	require.Equal(t, uint32(0xFFF7), bad)
	require.Equal(t, uint32(0xFFF8), eoc)

	g32 := Geometry{Type: FAT32}
	bad, eoc = g32.Sentinels()
	require.Equal(t, uint32(0x0FFFFFF7), bad)
	require.Equal(t, uint32(0x0FFFFFF8), eoc)
}
