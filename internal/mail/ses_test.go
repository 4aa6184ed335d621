package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESMailerSend(t *testing.T) {
	client := &fakeSES{}
	m := NewSESMailer(client, "noreply@manageros.dev")

	require.NoError(t, m.Send(context.Background(), "ada@example.com", "Task overdue", "\"Write doc\" was due"))

	require.NotNil(t, client.input)
	assert.Equal(t, "noreply@manageros.dev", aws.ToString(client.input.Source))
	assert.Equal(t, []string{"ada@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "Task overdue", aws.ToString(client.input.Message.Subject.Data))
	assert.Equal(t, "\"Write doc\" was due", aws.ToString(client.input.Message.Body.Text.Data))
}

func TestSESMailerWrapsErrors(t *testing.T) {
	sesErr := errors.New("throttled")
	m := NewSESMailer(&fakeSES{err: sesErr}, "noreply@manageros.dev")
	err := m.Send(context.Background(), "ada@example.com", "s", "b")
	require.ErrorIs(t, err, sesErr)
}
