// Package notify delivers recovery tokens and generated passwords.
//
// [Mailer] sends email over SMTP, [SNSSender] sends SMS through AWS SNS, and
// [Dispatcher] routes the engine's email and SMS calls to whichever senders are
// configured. A channel without a sender fails with [ErrChannelUnavailable] so the engine
// can count it as a refused destination.
package notify
