// Package ir defines the value tree held by a state store.
//
// A state tree is an IRObject whose leaves are IRString, IRInt, IRFloat,
// IRBool or IRNull and whose inner nodes are IRObject and IRArray. The package has no
// internal imports; every other package builds on it.
//
// Key constraints:
//   - integral numbers are IRInt, everything else IRFloat; the two compare
//     equal by value so a tree survives a canonical round trip
//   - an absent key means "undefined"; IRNull is an explicit null
//   - MarshalCanonical is the only encoding used for persistence and for
//     ciphertext plaintexts
//   - Lookup/SetPath/DeletePath address object properties by dot path
package ir
