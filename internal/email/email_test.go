package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePostmark struct {
	sent []postmark.Email
	resp postmark.EmailResponse
	err  error
}

func (f *fakePostmark) SendEmail(_ context.Context, e postmark.Email) (postmark.EmailResponse, error) {
	f.sent = append(f.sent, e)
	return f.resp, f.err
}

func TestMessageValidate(t *testing.T) {
	assert.NoError(t, Message{To: "a@x.com", Subject: "hi"}.Validate())
	assert.ErrorIs(t, Message{Subject: "hi"}.Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, Message{To: "a@x.com"}.Validate(), ErrInvalidMessage)
}

func TestBuildMIME_stripsHeaderInjection(t *testing.T) {
	raw := string(buildMIME("from@x.com", Message{
		To:       "to@x.com",
		Subject:  "Reset\r\nBcc: victim@x.com",
		HTMLBody: "<p>hi</p>",
	}))

	assert.Contains(t, raw, "Subject: ResetBcc: victim@x.com\r\n")
	assert.NotContains(t, raw, "\r\nBcc:")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n<p>hi</p>"))
}

func TestNoopSender(t *testing.T) {
	s := NewNoopSender(zap.NewNop())
	assert.NoError(t, s.Send(context.Background(), Message{To: "a@x.com", Subject: "hi"}))
	assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrInvalidMessage)
}

func TestNewPostmarkSender_requiresTokens(t *testing.T) {
	_, err := NewPostmarkSender("server", "", "from@x.com")
	assert.Error(t, err)
	_, err = NewPostmarkSender("server", "account", "")
	assert.Error(t, err)

	s, err := NewPostmarkSender("server", "account", "from@x.com")
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestPostmarkSender_Send(t *testing.T) {
	fake := &fakePostmark{}
	s := &PostmarkSender{client: fake, from: "from@x.com"}

	err := s.Send(context.Background(), Message{To: "a@x.com", Subject: "Reset", HTMLBody: "<b>x</b>", Tag: "password-reset"})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "from@x.com", fake.sent[0].From)
	assert.Equal(t, "password-reset", fake.sent[0].Tag)

	fake.resp = postmark.EmailResponse{ErrorCode: 406, Message: "inactive recipient"}
	err = s.Send(context.Background(), Message{To: "a@x.com", Subject: "Reset"})
	assert.ErrorIs(t, err, ErrFailedToSend)

	fake.resp = postmark.EmailResponse{}
	fake.err = errors.New("network down")
	err = s.Send(context.Background(), Message{To: "a@x.com", Subject: "Reset"})
	assert.ErrorIs(t, err, ErrFailedToSend)

	assert.ErrorIs(t, s.Send(context.Background(), Message{To: "a@x.com"}), ErrInvalidMessage)
	assert.Len(t, fake.sent, 3)
}

func TestSMTPSender_CancelledContext(t *testing.T) {
	s := NewSMTPSender("127.0.0.1", 465, "", "", "from@x.com")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Send(ctx, Message{To: "a@x.com", Subject: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
}
