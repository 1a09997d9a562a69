// Package dynamo implements the recovery directory on a DynamoDB users table.
//
// Each user is one item keyed by user_dn. Searchable fields are top-level string
// attributes backed by a global secondary index named "<field>-index". Everything else
// the engine reads lives in the attributes map. Passwords and challenge answers are
// stored as argon2id PHC hashes.
//
// [Directory] satisfies recovery.Directory and otp.RecordStore, so the same value can be
// handed to the engine builder and to otp.NewService.
package dynamo
