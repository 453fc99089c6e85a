package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendEmail(ctx context.Context, email Email) (*SendResult, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SendResult), args.Error(1)
}

func TestPacedSenderForwards(t *testing.T) {
	next := &mockSender{}
	email := Email{To: "sales@vendor.example", Subject: "Volume pricing"}
	next.On("SendEmail", mock.Anything, email).Return(&SendResult{ThreadID: "t-1"}, nil).Once()

	sender := NewPacedSender(next, 100, 1)
	res, err := sender.SendEmail(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, "t-1", res.ThreadID)
	next.AssertExpectations(t)
}

func TestPacedSenderWaitFailureIsRetryable(t *testing.T) {
	next := &mockSender{}
	next.On("SendEmail", mock.Anything, mock.Anything).Return(&SendResult{ThreadID: "t-1"}, nil).Once()

	// One token per minute: the second call cannot be served before its deadline.
	sender := NewPacedSender(next, 1.0/60, 1)
	_, err := sender.SendEmail(context.Background(), Email{To: "a@b.c"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sender.SendEmail(ctx, Email{To: "a@b.c"})
	assert.True(t, IsRetryable(err))
	next.AssertNumberOfCalls(t, "SendEmail", 1)
}
