package fatfs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// MountOptions is the parsed form of a mount option string (spec §6:
// "ro"/"rw", "cache=<N>[K|M|G|%]").
type MountOptions struct {
	Mode         Mode
	CacheBytes   int64 // absolute; CachePercent is resolved against device size by the caller
	CachePercent float64
}

// ParseMountOptions parses a comma-separated mount option string, the way
// mount(8) option strings are conventionally written.
func ParseMountOptions(s string) (MountOptions, error) {
	opts := MountOptions{Mode: ModeReadWrite}
	if s == "" {
		return opts, nil
	}
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		switch {
		case field == "ro":
			opts.Mode = ModeReadOnly
		case field == "rw":
			opts.Mode = ModeReadWrite
		case strings.HasPrefix(field, "cache="):
			val := strings.TrimPrefix(field, "cache=")
			if strings.HasSuffix(val, "%") {
				pct, err := strconv.ParseFloat(strings.TrimSuffix(val, "%"), 64)
				if err != nil || pct <= 0 || pct > 100 {
					return opts, fmt.Errorf("fatfs: invalid cache percentage %q", val)
				}
				opts.CachePercent = pct
				continue
			}
			n, err := humanize.ParseBytes(val)
			if err != nil {
				return opts, fmt.Errorf("fatfs: invalid cache size %q: %w", val, err)
			}
			opts.CacheBytes = int64(n)
		default:
			return opts, fmt.Errorf("fatfs: unrecognized mount option %q", field)
		}
	}
	return opts, nil
}

// ResolveCacheBytes turns a parsed CachePercent (if any) into an absolute
// byte budget against a device of the given size, otherwise returns
// CacheBytes unchanged.
func (o MountOptions) ResolveCacheBytes(deviceSize int64) int64 {
	if o.CachePercent > 0 {
		return int64(float64(deviceSize) * o.CachePercent / 100)
	}
	return o.CacheBytes
}
