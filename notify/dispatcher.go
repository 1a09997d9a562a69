package notify

import (
	"context"
	"errors"
	"fmt"

	recovery "github.com/pwm-project/pwm-sub000"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/sirupsen/logrus"
)

// ErrChannelUnavailable is returned for a channel with no configured sender.
var ErrChannelUnavailable = errors.New("notification channel not configured")

// EmailSender delivers one email.
type EmailSender interface {
	SendEmail(ctx context.Context, item session.EmailItem) error
}

// SMSSender delivers one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, number, message string) error
}

// Dispatcher implements recovery.Notifier on top of per-channel senders. Either sender
// may be nil.
type Dispatcher struct {
	email  EmailSender
	sms    SMSSender
	logger *logrus.Logger
}

var _ recovery.Notifier = (*Dispatcher)(nil)

func NewDispatcher(email EmailSender, sms SMSSender, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{email: email, sms: sms, logger: logger}
}

func (d *Dispatcher) SendEmail(ctx context.Context, item session.EmailItem, identity session.Identity) error {
	if d.email == nil {
		return fmt.Errorf("email: %w", ErrChannelUnavailable)
	}
	if err := d.email.SendEmail(ctx, item); err != nil {
		d.entry(identity, session.ChannelEmail).WithError(err).Warn("email delivery failed")
		return err
	}
	d.entry(identity, session.ChannelEmail).Debug("email delivered")
	return nil
}

func (d *Dispatcher) SendSMS(ctx context.Context, number, message string, identity session.Identity) error {
	if d.sms == nil {
		return fmt.Errorf("sms: %w", ErrChannelUnavailable)
	}
	if err := d.sms.SendSMS(ctx, number, message); err != nil {
		d.entry(identity, session.ChannelSMS).WithError(err).Warn("sms delivery failed")
		return err
	}
	d.entry(identity, session.ChannelSMS).Debug("sms delivered")
	return nil
}

func (d *Dispatcher) entry(identity session.Identity, ch session.Channel) *logrus.Entry {
	return d.logger.WithFields(logrus.Fields{
		"component": "notify",
		"channel":   ch.String(),
		"user":      identity.UserDN,
	})
}
