package direntry

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// allowed8_3Extra is the 8.3 allow-set besides uppercase letters and digits
// (spec §4.E).
const allowed8_3Extra = "$%'-_@~`!(){}^#&"

func isAllowed8_3Byte(b byte) bool {
	if b >= 'A' && b <= 'Z' {
		return true
	}
	if b >= '0' && b <= '9' {
		return true
	}
	return strings.IndexByte(allowed8_3Extra, b) >= 0
}

// Is8_3 reports whether name is already a valid 8.3 name: 1..8 base
// characters from the allow-set, optionally followed by '.' and 1..3
// extension characters, or exactly "." or "..".
func Is8_3(name string) bool {
	if name == "." || name == ".." {
		return true
	}
	base, ext, hasDot := strings.Cut(name, ".")
	if hasDot && strings.Contains(ext, ".") {
		return false
	}
	if len(base) < 1 || len(base) > 8 {
		return false
	}
	if hasDot && (len(ext) < 1 || len(ext) > 3) {
		return false
	}
	for i := 0; i < len(base); i++ {
		if !isAllowed8_3Byte(base[i]) {
			return false
		}
	}
	for i := 0; i < len(ext); i++ {
		if !isAllowed8_3Byte(ext[i]) {
			return false
		}
	}
	return true
}

// Encode8_3 encodes a decoded name into its 11-byte padded short-name
// form (spec §4.E encode_8_3).
func Encode8_3(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	if name == "." {
		out[0] = '.'
		return out
	}
	if name == ".." {
		out[0], out[1] = '.', '.'
		return out
	}

	name = strings.TrimLeft(name, ". ")
	name = strings.ToUpper(name)

	base := name
	ext := ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}

	sanitize := func(s string, maxLen int) []byte {
		b := make([]byte, 0, maxLen)
		for i := 0; i < len(s) && len(b) < maxLen; i++ {
			c := s[i]
			if !isAllowed8_3Byte(c) {
				c = '_'
			}
			b = append(b, c)
		}
		return b
	}

	baseBytes := sanitize(base, 8)
	extBytes := sanitize(ext, 3)

	if len(baseBytes) > 0 && baseBytes[0] == freeDeleted {
		baseBytes[0] = replacement5
	}

	copy(out[0:8], baseBytes)
	copy(out[8:11], extBytes)

	blank := true
	for _, c := range out {
		if c != ' ' {
			blank = false
			break
		}
	}
	if blank {
		out[0] = '_'
	}
	return out
}

// codepage437 recovers bytes >= 0x80 in a short name using OEM codepage
// 437 rather than collapsing them all to '_'; this is the only place
// fatfs departs from a byte-for-byte stdlib rendition of decode_8_3,
// since charmap.CodePage437 (golang.org/x/text) already carries the
// exact table FAT implementations on DOS/Windows assume.
var codepage437 = charmap.CodePage437

// Decode8_3 decodes an 11-byte short name back into a path component
// (spec §4.E decode_8_3): base and extension space-trimmed, 0x05 mapped
// back to 0xE5, a '.' separating the two parts (elided when the
// extension is empty). lowerBase/lowerExt apply the reserved-byte
// lowercase hints (read-only, spec §6).
func Decode8_3(raw [11]byte, lowerBase, lowerExt bool) string {
	if raw[0] == '.' {
		if raw[1] == '.' {
			return ".."
		}
		return "."
	}
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")

	decodeRun := func(s string, lower bool) string {
		var sb strings.Builder
		for i := 0; i < len(s); i++ {
			c := s[i]
			if c == replacement5 && i == 0 {
				c = freeDeleted
			}
			if c >= 0x80 {
				r := codepage437.DecodeByte(c)
				if r != 0xFFFD {
					sb.WriteRune(r)
					continue
				}
				c = '_'
			}
			if lower && c >= 'A' && c <= 'Z' {
				c += 'a' - 'A'
			}
			sb.WriteByte(c)
		}
		return sb.String()
	}

	b := decodeRun(base, lowerBase)
	e := decodeRun(ext, lowerExt)
	if e == "" {
		return b
	}
	return b + "." + e
}

// ChecksumName computes the standard VFAT rotate-right-add-byte checksum
// over an 11-byte short name, linking LFN slots to their 8.3 record
// (spec §4.E ChecksumName).
func ChecksumName(name [11]byte) uint8 {
	var sum uint8
	for _, c := range name {
		sum = (sum>>1 | sum<<7) + c
	}
	return sum
}
