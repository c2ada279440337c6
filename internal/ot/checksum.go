package ot

import "strconv"

// Checksum computes a deterministic 32-bit rolling hash of content rendered
// in base-36 (spec §4.1). It must be stable across implementations, so the
// algorithm is fixed here rather than left to the standard library's
// hash/fnv or similar (those are not guaranteed stable across languages).
//
// The rolling hash is the classic polynomial hash (hash = hash*31 + byte),
// computed over the UTF-8 bytes of content and truncated to 32 bits — the
// same recurrence the teacher's generateUserColor uses for its string
// hash, generalized here to cover the whole document.
func Checksum(content string) string {
	var hash uint32
	for i := 0; i < len(content); i++ {
		hash = hash*31 + uint32(content[i])
	}
	return strconv.FormatUint(uint64(hash), 36)
}

// userColorPalette is the fixed 15-entry palette referenced by spec §4.1.
var userColorPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
	"#F1948A", "#76D7C4", "#F8C471", "#82E0AA", "#AED6F1",
}

// GenerateUserColor deterministically picks a color from the fixed palette
// via the same 32-bit string hash as Checksum, grounded on the
// generateUserColor helper in the other_examples conflict-resolution
// service (which used a 10-color palette; spec widens it to 15).
func GenerateUserColor(userID string) string {
	var hash uint32
	for _, r := range userID {
		hash = hash*31 + uint32(r)
	}
	return userColorPalette[int(hash)%len(userColorPalette)]
}
