// Package dedup computes content fingerprints and flags records whose
// normalized answer text was already stored under a different URL.
//
// Matching is exact: two texts collide only if they are identical after
// normalization. Duplicates are persisted with a flag, never dropped.
package dedup
