package direntry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSlot() Raw { return make(Raw, SlotSize) }

func TestRawKind(t *testing.T) {
	end := newSlot()
	require.Equal(t, KindEnd, end.Kind())

	free := newSlot()
	free.MarkFree()
	require.Equal(t, KindFree, free.Kind())

	long := newSlot()
	long.InitLFN()
	require.Equal(t, KindLongName, long.Kind())

	short := newSlot()
	copy(short, "README  TXT")
	short.SetAttr(AttrArchive)
	require.Equal(t, KindShort, short.Kind())
}

func TestRawShortNameRoundTrip(t *testing.T) {
	r := newSlot()
	name := Encode8_3("README.TXT")
	r.SetShortName(name)
	require.Equal(t, name, r.ShortName())
}

func TestRawClusterRoundTrip(t *testing.T) {
	r := newSlot()
	r.SetCluster(0x00ABCDEF)
	require.Equal(t, uint32(0x00ABCDEF), r.Cluster())
}

func TestRawSizeRoundTrip(t *testing.T) {
	r := newSlot()
	r.SetSize(123456)
	require.Equal(t, uint32(123456), r.Size())
}

func TestRawLFNUnitsRoundTrip(t *testing.T) {
	r := newSlot()
	r.InitLFN()
	r.SetOrdinal(1 | LastLongEntry)
	r.SetLFNChecksum(0x42)
	var units [13]uint16
	for i := range units {
		units[i] = uint16('a' + i)
	}
	r.SetLFNUnits(units)

	require.True(t, r.IsLastLFN())
	require.Equal(t, uint8(0x42), r.LFNChecksum())
	require.Equal(t, units, r.LFNUnits())
}

func TestRawMarkFreeAndEnd(t *testing.T) {
	r := newSlot()
	copy(r, "README  TXT")
	r.MarkFree()
	require.Equal(t, KindFree, r.Kind())
	r.MarkEnd()
	require.Equal(t, KindEnd, r.Kind())
}

func TestDOSDateTimeRoundTrip(t *testing.T) {
	in := time.Date(2023, time.May, 17, 13, 42, 30, 0, time.UTC)
	date, tod := DOSDateTime(in)
	out := TimeFromDOS(date, tod)
	require.Equal(t, in.Year(), out.Year())
	require.Equal(t, in.Month(), out.Month())
	require.Equal(t, in.Day(), out.Day())
	require.Equal(t, in.Hour(), out.Hour())
	require.Equal(t, in.Minute(), out.Minute())
	require.Equal(t, in.Second(), out.Second())
}

func TestDOSDateTimeClampsPreEpoch(t *testing.T) {
	in := time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
	date, _ := DOSDateTime(in)
	out := TimeFromDOS(date, 0)
	require.Equal(t, 1980, out.Year())
}
