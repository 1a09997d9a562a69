// Package password hashes secrets with Argon2id and generates policy-compliant random
// passwords for the send-new-password recovery action.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The package never stores or logs plaintext. Callers supply plaintext and receive hashes.
package password
