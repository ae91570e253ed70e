package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billwatch/internal/types"
)

func newTestSendGridClient(t *testing.T, serverURL string) *SendGridClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-sendgrid",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond},
		"BillWatch-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	return NewSendGridClientWithBase(base, SendGridClientConfig{
		APIKey:  "SG.test_api_key",
		BaseURL: serverURL,
	})
}

func reminderInput() SendInput {
	return SendInput{
		To:          "recipient@example.com",
		FromAddress: "reminders@billwatch.app",
		FromName:    "BillWatch",
		Subject:     "Internet is due in 3 days",
		BodyText:    "Your bill is due in 3 days.",
		BodyHTML:    "<p>Your bill is due in 3 days.</p>",
		ReferenceID: "queue_001",
	}
}

func TestSendGridSend_Success(t *testing.T) {
	var receivedPayload sendGridMailPayload
	var receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("expected path /v3/mail/send, got %s", r.URL.Path)
		}
		receivedAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&receivedPayload); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		w.Header().Set("X-Message-Id", "sg_msg_abc123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	msgID, err := client.Send(context.Background(), reminderInput())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if msgID != "sg_msg_abc123" {
		t.Errorf("expected message ID sg_msg_abc123, got %s", msgID)
	}
	if receivedAuth != "Bearer SG.test_api_key" {
		t.Errorf("expected Bearer SG.test_api_key, got %s", receivedAuth)
	}

	if len(receivedPayload.Personalizations) != 1 || len(receivedPayload.Personalizations[0].To) != 1 {
		t.Fatalf("unexpected personalizations: %+v", receivedPayload.Personalizations)
	}
	if got := receivedPayload.Personalizations[0].To[0].Email; got != "recipient@example.com" {
		t.Errorf("to = %s", got)
	}
	if receivedPayload.From.Email != "reminders@billwatch.app" || receivedPayload.From.Name != "BillWatch" {
		t.Errorf("from = %+v", receivedPayload.From)
	}
	if receivedPayload.Subject != "Internet is due in 3 days" {
		t.Errorf("subject = %s", receivedPayload.Subject)
	}

	// text/plain must come before text/html.
	if len(receivedPayload.Content) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(receivedPayload.Content))
	}
	if receivedPayload.Content[0].Type != "text/plain" || receivedPayload.Content[1].Type != "text/html" {
		t.Errorf("content order wrong: %+v", receivedPayload.Content)
	}

	if refID := receivedPayload.CustomArgs["reference_id"]; refID != "queue_001" {
		t.Errorf("expected reference_id queue_001, got %v", refID)
	}
}

func TestSendGridSend_NoReferenceIDOmitsCustomArgs(t *testing.T) {
	var receivedPayload sendGridMailPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&receivedPayload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	input := reminderInput()
	input.ReferenceID = ""
	if _, err := client.Send(context.Background(), input); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if receivedPayload.CustomArgs != nil {
		t.Errorf("expected custom_args omitted, got %v", receivedPayload.CustomArgs)
	}
}

func TestSendGridSend_BadRequestMapsToEmailError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{
				{"message": "The from address does not match a verified Sender Identity.", "field": "from"},
			},
		})
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	_, err := client.Send(context.Background(), reminderInput())
	if err == nil {
		t.Fatal("expected error for 400, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamEmail {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamEmail, appErr.Code)
	}
}

func TestSendGridSend_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	_, err := client.Send(context.Background(), reminderInput())
	if err == nil {
		t.Fatal("expected error for 429, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamRateLimited {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamRateLimited, appErr.Code)
	}
}

func TestSendGridSend_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	_, err := client.Send(context.Background(), reminderInput())
	if err == nil {
		t.Fatal("expected error for 500, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamUnavailable, appErr.Code)
	}
}

func TestSendGridSend_NonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Bad Request - not JSON"))
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	_, err := client.Send(context.Background(), reminderInput())
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
