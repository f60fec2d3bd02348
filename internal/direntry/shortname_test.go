package direntry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIs8_3(t *testing.T) {
	cases := map[string]bool{
		".":           true,
		"..":          true,
		"README":      true,
		"README.TXT":  true,
		"readme.txt":  false, // lowercase is not in the 8.3 allow-set
		"toolongname": false,
		"a.bcde":      false,
		"a.b.c":       false,
	}
	for name, want := range cases {
		require.Equal(t, want, Is8_3(name), "name=%q", name)
	}
}

func TestEncodeDecode8_3RoundTrip(t *testing.T) {
	enc := Encode8_3("README.TXT")
	require.Equal(t, "README  TXT", string(enc[:]))
	require.Equal(t, "README.TXT", Decode8_3(enc, false, false))
}

func TestEncode8_3PadsAndUppercases(t *testing.T) {
	enc := Encode8_3("foo.c")
	require.Equal(t, "FOO     C  ", string(enc[:]))
}

func TestEncode8_3SanitizesDisallowedBytes(t *testing.T) {
	enc := Encode8_3("a b.c")
	got := Decode8_3(enc, false, false)
	require.NotContains(t, got, " ")
}

func TestDecode8_3DotEntries(t *testing.T) {
	dot := Encode8_3(".")
	require.Equal(t, ".", Decode8_3(dot, false, false))
	dotdot := Encode8_3("..")
	require.Equal(t, "..", Decode8_3(dotdot, false, false))
}

func TestChecksumNameDeterministic(t *testing.T) {
	name := Encode8_3("README.TXT")
	c1 := ChecksumName(name)
	c2 := ChecksumName(name)
	require.Equal(t, c1, c2)

	other := ChecksumName(Encode8_3("OTHER.TXT"))
	require.NotEqual(t, c1, other)
}
