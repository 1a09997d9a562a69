// Package otp validates one-time passcodes for the OTP verification method.
//
// [Service] supports time-based (TOTP) and counter-based (HOTP) records via
// github.com/pquerna/otp. Counter records are advanced inside a small look-ahead window
// on every successful validation. A wide resynchronization window is used only when the
// caller passes allowRepair=true, which the recovery engine never does.
package otp
