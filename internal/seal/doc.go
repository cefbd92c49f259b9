// Package seal encrypts configured sensitive fields of a state tree.
//
// Sensitive values never stay in the tree. EncryptTree moves each value found
// at an exact sensitive path into a side table of AES-GCM ciphertexts keyed by
// that path, and DecryptTree reassembles a plaintext copy on read. The key is
// derived once with PBKDF2 from a passphrase and a random salt; the resulting
// Params are persisted so the same key can be re-derived after a restart.
package seal
