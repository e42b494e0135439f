package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	name  string
	err   error
	calls int
}

func (s *stubSender) Send(context.Context, string, string) error {
	s.calls++
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func TestSendDispatchesToAllSenders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := &stubSender{name: "a"}
	b := &stubSender{name: "b"}

	n := NewNotifier([]Sender{a, b}, logger)
	require.NoError(t, n.Send(context.Background(), "Auction won", "details"))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestSendContinuesPastFailingSender(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := &stubSender{name: "a", err: errors.New("webhook down")}
	b := &stubSender{name: "b"}

	n := NewNotifier([]Sender{a, b}, logger)
	err := n.Send(context.Background(), "Back-run failed", "details")
	assert.Error(t, err)
	assert.Equal(t, 1, b.calls, "remaining senders still receive the alert")
}

func TestSendWithNoSendersIsNoop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := NewNotifier(nil, logger)
	assert.NoError(t, n.Send(context.Background(), "title", "message"))
}
