package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

type mockEmail struct {
	mock.Mock
}

func (m *mockEmail) SendEmail(ctx context.Context, item session.EmailItem) error {
	return m.Called(ctx, item).Error(0)
}

type sentMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func newTestMailer(cfg SMTPConfig, out *sentMail, err error) *Mailer {
	m := NewMailer(cfg)
	m.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	m.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		*out = sentMail{addr: addr, auth: a, from: from, to: to, msg: string(msg)}
		return err
	}
	return m
}

func TestMailerComposesMessage(t *testing.T) {
	var got sentMail
	m := newTestMailer(SMTPConfig{Host: "mail.example.com", From: "noreply@example.com"}, &got, nil)

	err := m.SendEmail(context.Background(), session.EmailItem{
		To:      "alice@example.com",
		Subject: "Your code\r\nBcc: evil@example.com",
		Body:    "line one\nline two",
	})
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com:587", got.addr)
	assert.Nil(t, got.auth, "no auth without a username")
	assert.Equal(t, "noreply@example.com", got.from)
	assert.Equal(t, []string{"alice@example.com"}, got.to)
	assert.Contains(t, got.msg, "Subject: Your codeBcc: evil@example.com\r\n")
	assert.Contains(t, got.msg, "Message-ID: <")
	assert.Contains(t, got.msg, "@example.com>\r\n")
	assert.True(t, strings.HasSuffix(got.msg, "\r\n\r\nline one\r\nline two"))
}

func TestMailerUsesAuthAndItemSender(t *testing.T) {
	var got sentMail
	m := newTestMailer(SMTPConfig{Host: "mail.example.com", Port: "25", Username: "u", Password: "p"}, &got, nil)

	require.NoError(t, m.SendEmail(context.Background(), session.EmailItem{To: "a@example.com", From: "ops@example.com"}))
	assert.NotNil(t, got.auth)
	assert.Equal(t, "ops@example.com", got.from)
	assert.Equal(t, "mail.example.com:25", got.addr)
}

func TestMailerRejectsMissingAddresses(t *testing.T) {
	var got sentMail
	m := newTestMailer(SMTPConfig{Host: "mail.example.com"}, &got, nil)

	assert.Error(t, m.SendEmail(context.Background(), session.EmailItem{}))
	assert.Error(t, m.SendEmail(context.Background(), session.EmailItem{To: "a@example.com"}))
}

func TestMailerWrapsTransportError(t *testing.T) {
	var got sentMail
	cause := errors.New("connection refused")
	m := newTestMailer(SMTPConfig{Host: "mail.example.com", From: "x@example.com"}, &got, cause)

	err := m.SendEmail(context.Background(), session.EmailItem{To: "a@example.com"})
	assert.ErrorIs(t, err, cause)
}

func TestSNSSenderPublishesTransactionalSMS(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return *in.PhoneNumber == "+15550001234" &&
			*in.Message == "code 1234" &&
			*in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue == "Transactional" &&
			*in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue == "RECOVERY"
	})).Return(&sns.PublishOutput{}, nil).Once()

	s := NewSNSSenderFromClient(pub, "RECOVERY")
	require.NoError(t, s.SendSMS(context.Background(), "+15550001234", "code 1234"))
	pub.AssertExpectations(t)
}

func TestSNSSenderWrapsErrors(t *testing.T) {
	pub := &mockPublisher{}
	cause := errors.New("throttled")
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil, cause)

	s := NewSNSSenderFromClient(pub, "")
	assert.ErrorIs(t, s.SendSMS(context.Background(), "+1555", "x"), cause)
	assert.Error(t, s.SendSMS(context.Background(), "", "x"))
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestDispatcherRoutesAndReportsMissingChannels(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	email := &mockEmail{}
	item := session.EmailItem{To: "alice@example.com", Body: "hi"}
	email.On("SendEmail", mock.Anything, item).Return(nil).Once()

	d := NewDispatcher(email, nil, logger)
	id := session.Identity{UserDN: "uid=alice"}

	require.NoError(t, d.SendEmail(context.Background(), item, id))
	assert.ErrorIs(t, d.SendSMS(context.Background(), "+1555", "x", id), ErrChannelUnavailable)
	email.AssertExpectations(t)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "EMAIL", hook.LastEntry().Data["channel"])
}

func TestDispatcherLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	d := NewDispatcher(nil, NewSNSSenderFromClient(pub, ""), logger)
	err := d.SendSMS(context.Background(), "+1555", "x", session.Identity{UserDN: "uid=bob"})
	require.Error(t, err)
	assert.ErrorIs(t, d.SendEmail(context.Background(), session.EmailItem{}, session.Identity{}), ErrChannelUnavailable)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.Entries[0].Level)
	assert.Equal(t, "uid=bob", hook.Entries[0].Data["user"])
}
