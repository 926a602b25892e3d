// Package password implements password hashing and verification with Argon2id,
// plus the local length policy applied to new passwords.
//
// # Output format
//
// Digests are encoded in PHC string format with unpadded base64:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// [Argon2.NeedsRehash] reports digests produced with weaker parameters so the
// caller can re-hash after the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive digests.
//   - Signal malformed digests to callers of Verify (they simply do not match).
//   - Log plaintext passwords or digests.
package password
