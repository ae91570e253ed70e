package external

import (
	"context"
	"errors"
	"testing"
	"time"

	"gopkg.in/gomail.v2"

	"billwatch/internal/types"
)

type fakeDialer struct {
	messages []*gomail.Message
	err      error
	delay    time.Duration
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.messages = append(d.messages, m...)
	return d.err
}

func TestSMTPSend_Success(t *testing.T) {
	dialer := &fakeDialer{}
	client := NewSMTPClientWithDialer(dialer, nil)

	msgID, err := client.Send(context.Background(), SendInput{
		To:          "recipient@example.com",
		FromAddress: "reminders@billwatch.app",
		FromName:    "BillWatch",
		Subject:     "Internet is due tomorrow",
		BodyText:    "plain body",
		BodyHTML:    "<p>html body</p>",
		ReferenceID: "queue_001",
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if msgID != "queue_001" {
		t.Errorf("expected reference ID as message ID, got %s", msgID)
	}
	if len(dialer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(dialer.messages))
	}

	m := dialer.messages[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "recipient@example.com" {
		t.Errorf("to header = %v", got)
	}
	if got := m.GetHeader("Subject"); len(got) != 1 || got[0] != "Internet is due tomorrow" {
		t.Errorf("subject header = %v", got)
	}
}

func TestSMTPSend_DialError(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("dial tcp: connection refused")}
	client := NewSMTPClientWithDialer(dialer, nil)

	_, err := client.Send(context.Background(), SendInput{
		To:       "recipient@example.com",
		BodyText: "plain body",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamEmail {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamEmail, appErr.Code)
	}
}

func TestSMTPSend_ContextDeadline(t *testing.T) {
	dialer := &fakeDialer{delay: 200 * time.Millisecond}
	client := NewSMTPClientWithDialer(dialer, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Send(ctx, SendInput{To: "recipient@example.com", BodyText: "x"})
	if err == nil {
		t.Fatal("expected deadline error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped context.DeadlineExceeded, got %v", err)
	}
}
