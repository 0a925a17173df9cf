package sdlite

import (
	"strings"

	"github.com/aligator/sdlite/checkpoint"
)

// illegalNameChars may not be part of a short file name.
const illegalNameChars = `|<>^+=?/[];,*"\`

// make83Name converts the first path component of path into the blank padded,
// upper case 11 byte directory entry name.
// It returns the remaining path starting at the '/' which ended the component.
func make83Name(path string) ([11]byte, string, error) {
	var name [11]byte
	for i := range name {
		name[i] = ' '
	}

	// max index for the part before the dot
	n := 7
	i := 0
	pos := 0
	for ; pos < len(path) && path[pos] != '/'; pos++ {
		c := path[pos]
		if c == '.' {
			if n == 10 {
				return name, path, checkpoint.Wrapf(ErrInvalidName, ErrInvalidName, "%q: only one dot allowed", path)
			}
			n = 10
			i = 8
			continue
		}

		if strings.IndexByte(illegalNameChars, c) >= 0 {
			return name, path, checkpoint.Wrapf(ErrInvalidName, ErrInvalidName, "%q: illegal character %q", path, c)
		}

		if i > n || c < 0x21 || c > 0x7E {
			return name, path, checkpoint.Wrapf(ErrInvalidName, ErrInvalidName, "%q: too long or not printable", path)
		}

		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		name[i] = c
		i++
	}

	if name[0] == ' ' {
		return name, path, checkpoint.Wrapf(ErrInvalidName, ErrInvalidName, "%q: empty name", path)
	}

	return name, path[pos:], nil
}

// shortName formats an 11 byte directory entry name as "NAME.EXT".
func shortName(raw [11]byte) string {
	name := strings.TrimRight(string(raw[:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")

	if ext != "" {
		name += "." + ext
	}
	return name
}
