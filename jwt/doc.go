// Package jwt signs and verifies authentication records.
//
// An authentication record is a short-lived signed statement that a browser already
// authenticated as a given directory user. The recovery engine reads it back to satisfy the
// passive PREVIOUS_AUTH verification method without showing the user a prompt.
package jwt
