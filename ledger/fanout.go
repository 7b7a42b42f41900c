package ledger

import (
	"path"
	"strings"
)

// fanoutPath rewrites a logical path "dir/basename.ext[.compression]" into
// its physical on-disk path "dir/a/b/c/.../basename.ext[.compression]",
// taking the first depth characters of the basename (stripped of every
// known extension/compression suffix) as successive single-character
// subdirectories (§4.2, §9).
//
// This is a pure string transformation, independent of any filesystem
// state, per the design note that a systems-language port should keep the
// fan-out as a unit-testable pure function rather than weaving it through
// path resolution logic.
func fanoutPath(logicalPath string, depth int) string {
	if depth <= 0 {
		return logicalPath
	}

	dir, base := path.Split(logicalPath)

	key := fanoutKey(base)
	if len(key) > depth {
		key = key[:depth]
	}

	var b strings.Builder

	b.WriteString(dir)

	for _, r := range key {
		b.WriteRune(r)
		b.WriteByte('/')
	}

	// Pad with a constant filler segment if the basename is shorter than
	// depth, so every physical path carries exactly depth fan-out segments,
	// which is what unfanoutPath strips.
	for i := len(key); i < depth; i++ {
		b.WriteString("_/")
	}

	b.WriteString(base)

	return b.String()
}

// unfanoutPath is the inverse of fanoutPath: given a physical path produced
// by fanoutPath with the same depth, it returns the original logical path.
// list_directory uses this to strip the fan-out segments it traversed
// before handing paths back to callers (§4.2).
func unfanoutPath(physicalPath string, depth int) string {
	if depth <= 0 {
		return physicalPath
	}

	dir, base := path.Split(physicalPath)

	segments := strings.Split(strings.TrimSuffix(dir, "/"), "/")
	if len(segments) < depth {
		return physicalPath
	}

	logicalDir := strings.Join(segments[:len(segments)-depth], "/")
	if logicalDir != "" {
		logicalDir += "/"
	}

	return logicalDir + base
}

// fanoutKey extracts the characters of basename used to build the fan-out
// directories: everything up to (but not including) the first '.'. This
// strips both a file extension and any compression suffix in one step,
// since compression suffixes are always appended after the extension
// (".bin.gz", never ".gz.bin").
func fanoutKey(basename string) string {
	if i := strings.IndexByte(basename, '.'); i >= 0 {
		return basename[:i]
	}

	return basename
}
