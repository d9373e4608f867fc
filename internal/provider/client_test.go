package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestCreateMailboxSuccess(t *testing.T) {
	var gotAction string
	var gotBody createRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.URL.Query().Get("action")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", newTestLogger())
	email, err := c.CreateMailbox(context.Background(), "alice", "example.com", "pw123456")
	if err != nil {
		t.Fatalf("CreateMailbox error: %v", err)
	}

	if email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", email)
	}
	if gotAction != "create_account" {
		t.Errorf("action = %q, want create_account", gotAction)
	}
	if gotBody.LocalPart != "alice" || gotBody.Domain != "example.com" || gotBody.Password != "pw123456" {
		t.Errorf("unexpected request body: %+v", gotBody)
	}
}

func TestCreateMailboxBusinessError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"msg":     "mailbox already exists",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", newTestLogger())
	_, err := c.CreateMailbox(context.Background(), "alice", "example.com", "pw")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestLoginInactiveMailboxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"account": map[string]interface{}{
				"email":  "alice@example.com",
				"domain": "example.com",
				"active": false,
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", newTestLogger())
	_, err := c.Login(context.Background(), "alice@example.com", "pw")
	if err == nil {
		t.Fatal("expected error for inactive mailbox, got nil")
	}
	if !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestLoginNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "Account not found",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", newTestLogger())
	_, err := c.Login(context.Background(), "ghost@example.com", "pw")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestGetMessagesParsesWireFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"emails": []map[string]interface{}{
				{
					"uid":     2,
					"subject": "Security notice",
					"from":    map[string]string{"name": "Security Team", "email": "security@example.com"},
					"date":    "2024-01-15T14:20:00Z",
					"isRead":  true,
					"attachments": []map[string]interface{}{
						{"name": "report.pdf", "size": "1.2 MB", "type": "application/pdf", "url": "https://files/report.pdf", "isImage": false},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", newTestLogger())
	messages, err := c.GetMessages(context.Background(), "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("GetMessages error: %v", err)
	}

	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	msg := messages[0]
	if msg.UID != 2 || msg.Subject != "Security notice" || msg.FromEmail != "security@example.com" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Date.IsZero() {
		t.Error("date was not parsed")
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Name != "report.pdf" {
		t.Errorf("unexpected attachments: %+v", msg.Attachments)
	}
}

func TestGetMessagesFailureReturnsEmptySlice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "imap unavailable",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", newTestLogger())
	messages, err := c.GetMessages(context.Background(), "alice@example.com", "pw")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if messages == nil {
		t.Fatal("messages slice is nil, want empty")
	}
	if len(messages) != 0 {
		t.Fatalf("got %d messages, want 0", len(messages))
	}
}

func TestTransportErrorIsNotProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := NewClient(srv.URL, "", newTestLogger())
	err := c.DeleteMailbox(context.Background(), "alice@example.com")
	if err == nil {
		t.Fatal("expected transport error, got nil")
	}
	if IsProviderError(err) {
		t.Fatalf("transport error classified as provider error: %v", err)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", newTestLogger())
	if err := c.ChangePassword(context.Background(), "alice@example.com", "newpw"); err != nil {
		t.Fatalf("ChangePassword error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}
