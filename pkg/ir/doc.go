// Package ir provides the value model shared by epics, actions and tooling.
//
// Values form a sealed union: Null, String, Int, Bool, Array and Object, plus
// the Unset sentinel that marks state or scope never written. Deciding the
// shape of a value at construction time replaces runtime "is this a plain
// object" checks: containers are exactly Array and Object, everything else is
// a primitive.
//
// Key design constraints:
//   - NO float types anywhere. Numbers are int64.
//   - Unset is not Null. It has no JSON or canonical form.
//   - Canonical JSON (RFC 8785) is the only serialization used for hashes and
//     golden snapshots.
//
// This package imports nothing internal; everything else builds on it.
package ir
