package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/pwm-project/pwm-sub000/session"
)

type DeliveryMode uint8

const (
	// DeliverFirstSuccess stops at the first destination that accepts the message.
	DeliverFirstSuccess DeliveryMode = iota
	// DeliverAll tries every destination and succeeds when any accepts.
	DeliverAll
)

var errNoDestination = errors.New("no deliverable destination")

// PlanDelivery orders the available destinations according to policy. For PolicyChoice the
// chosen channel is the only candidate.
func PlanDelivery(policy session.ChannelPolicy, chosen session.Channel, available []session.Destination) ([]session.Destination, DeliveryMode) {
	email, hasEmail := findDestination(available, session.ChannelEmail)
	sms, hasSMS := findDestination(available, session.ChannelSMS)

	var plan []session.Destination
	add := func(d session.Destination, ok bool) {
		if ok {
			plan = append(plan, d)
		}
	}

	switch policy {
	case session.PolicyEmailOnly:
		add(email, hasEmail)
	case session.PolicySMSOnly:
		add(sms, hasSMS)
	case session.PolicyEmailFirst:
		add(email, hasEmail)
		add(sms, hasSMS)
	case session.PolicySMSFirst:
		add(sms, hasSMS)
		add(email, hasEmail)
	case session.PolicyBoth:
		add(email, hasEmail)
		add(sms, hasSMS)
		return plan, DeliverAll
	case session.PolicyChoice:
		switch chosen {
		case session.ChannelEmail:
			add(email, hasEmail)
		case session.ChannelSMS:
			add(sms, hasSMS)
		}
	}
	return plan, DeliverFirstSuccess
}

// ChoosableChannels lists the channels a user may pick under PolicyChoice.
func ChoosableChannels(available []session.Destination) []session.Channel {
	var out []session.Channel
	if _, ok := findDestination(available, session.ChannelEmail); ok {
		out = append(out, session.ChannelEmail)
	}
	if _, ok := findDestination(available, session.ChannelSMS); ok {
		out = append(out, session.ChannelSMS)
	}
	return out
}

// Deliver sends through plan per mode and returns the destinations that accepted.
func Deliver(ctx context.Context, plan []session.Destination, mode DeliveryMode, send func(context.Context, session.Destination) error) ([]session.Destination, error) {
	if len(plan) == 0 {
		return nil, errNoDestination
	}

	var (
		delivered []session.Destination
		errs      []error
	)
	for _, dest := range plan {
		if err := send(ctx, dest); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = append(delivered, dest)
		if mode == DeliverFirstSuccess {
			break
		}
	}
	if len(delivered) == 0 {
		return nil, errors.Join(errs...)
	}
	return delivered, nil
}

// MaskDestinations renders delivered destinations for display, e.g. "j***@example.com, ***-***-1234".
func MaskDestinations(dests []session.Destination) string {
	parts := make([]string, 0, len(dests))
	for _, d := range dests {
		switch d.Channel {
		case session.ChannelEmail:
			parts = append(parts, maskEmail(d.Address))
		case session.ChannelSMS:
			parts = append(parts, maskPhone(d.Address))
		}
	}
	return strings.Join(parts, ", ")
}

func maskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}

func maskPhone(number string) string {
	digits := make([]byte, 0, len(number))
	for i := 0; i < len(number); i++ {
		if number[i] >= '0' && number[i] <= '9' {
			digits = append(digits, number[i])
		}
	}
	if len(digits) <= 4 {
		return "****"
	}
	return "***-***-" + string(digits[len(digits)-4:])
}

func findDestination(available []session.Destination, ch session.Channel) (session.Destination, bool) {
	for _, d := range available {
		if d.Channel == ch && strings.TrimSpace(d.Address) != "" {
			return d, true
		}
	}
	return session.Destination{}, false
}
