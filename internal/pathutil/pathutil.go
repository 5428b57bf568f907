// Package pathutil implements the flat directory-name encoding used for
// project directories in the session tree.
package pathutil

import (
	"path"
	"strings"
)

// Encode converts an absolute filesystem path into a flat directory name.
// Existing dashes are escaped as "--" before separators become dashes, so
// the mapping is reversible:
//
//	/Users/alice/work/foo--bar → -Users-alice-work-foo----bar
func Encode(p string) string {
	escaped := strings.ReplaceAll(p, "-", "--")
	return strings.ReplaceAll(escaped, "/", "-")
}

// Decode reverses Encode. A literal "--" in the name is one "-" in the path;
// every remaining single "-" is a "/". Names that do not start with "-" are
// not encoded paths (legacy layouts) and are returned verbatim.
func Decode(name string) string {
	if !strings.HasPrefix(name, "-") {
		return name
	}

	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		if name[i] != '-' {
			b.WriteByte(name[i])
			continue
		}
		if i+1 < len(name) && name[i+1] == '-' {
			b.WriteByte('-')
			i++
			continue
		}
		b.WriteByte('/')
	}
	return b.String()
}

// DisplayName returns the last component of the decoded path.
func DisplayName(name string) string {
	decoded := Decode(name)
	if decoded == "" {
		return ""
	}
	return path.Base(decoded)
}

// LooksAmbiguous reports whether a directory name may predate dash escaping.
// Heuristic: the display name contains a dash while the name itself contains
// no "--" pair, so the dash cannot have come from an escaped original.
func LooksAmbiguous(name string) bool {
	return strings.Contains(DisplayName(name), "-") && !strings.Contains(name, "--")
}
