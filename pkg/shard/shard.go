// Package shard maps flat keys (post ids, content fingerprints) onto a
// fixed-depth prefix tree so that no directory or index file grows without
// bound as the archive grows.
package shard

import (
	"path/filepath"
	"strings"
)

const (
	// MinKeyLength is the width keys are left-padded to before slicing.
	MinKeyLength = 8
	// SegmentWidth is the number of characters per path segment.
	SegmentWidth = 2
	// Filler pads short keys on the left.
	Filler = "0"
)

// Normalize left-pads key with Filler to MinKeyLength. Longer keys are
// returned unchanged.
func Normalize(key string) string {
	if len(key) >= MinKeyLength {
		return key
	}
	return strings.Repeat(Filler, MinKeyLength-len(key)) + key
}

// Segments returns the first n SegmentWidth-wide slices of the normalized key.
func Segments(key string, n int) []string {
	norm := Normalize(key)
	segs := make([]string, 0, n)
	for i := 0; i < n && (i+1)*SegmentWidth <= len(norm); i++ {
		segs = append(segs, norm[i*SegmentWidth:(i+1)*SegmentWidth])
	}
	return segs
}

// IndexPath returns the bucket file for key relative to an index root:
// <k0k1>/<k2k3>/<k4k5>.json.
func IndexPath(key string) string {
	segs := Segments(key, 3)
	return filepath.Join(segs[0], segs[1], segs[2]+".json")
}

// ContentPath returns the blob location for a fingerprint relative to the
// content root: <f0f1>/<f2f3>/<remainder>.
func ContentPath(fingerprint string) string {
	norm := Normalize(fingerprint)
	segs := Segments(norm, 2)
	return filepath.Join(segs[0], segs[1], norm[2*SegmentWidth:])
}
