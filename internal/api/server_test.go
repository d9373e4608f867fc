package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/x69x/webmail/internal/api"
	"github.com/x69x/webmail/internal/model"
	"github.com/x69x/webmail/internal/provider"
	"github.com/x69x/webmail/internal/session"
	"github.com/x69x/webmail/tests/testutil"
)

// scriptedProvider is a minimal session.Provider for boundary tests.
type scriptedProvider struct {
	createErr error
}

func (p *scriptedProvider) CreateMailbox(ctx context.Context, localPart, domain, password string) (string, error) {
	if p.createErr != nil {
		return "", p.createErr
	}
	return localPart + "@" + domain, nil
}

func (p *scriptedProvider) Login(ctx context.Context, email, password string) (*provider.AccountInfo, error) {
	return &provider.AccountInfo{Email: email, Active: true}, nil
}

func (p *scriptedProvider) GetMessages(ctx context.Context, email, password string) ([]model.Message, error) {
	return []model.Message{}, nil
}

func (p *scriptedProvider) DeleteMailbox(ctx context.Context, email string) error { return nil }

func (p *scriptedProvider) ChangePassword(ctx context.Context, email, newPassword string) error {
	return nil
}

func newTestServer(t *testing.T, p session.Provider, maxAccounts int) *api.Server {
	t.Helper()
	cfg := &model.AppConfig{Domain: "example.com", MaxAccounts: maxAccounts}
	ctrl := session.New(context.Background(), testutil.NewTestStore(t), p, testutil.NewTestLogger())
	return api.NewServer(cfg, ctrl, api.NewHub(), testutil.NewTestLogger())
}

func postJSON(t *testing.T, srv http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestCreateAccountEndpoint(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{}, 20)

	rec := postJSON(t, srv, "/api/accounts", `{"local_part":"alice","password":"pw123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool          `json:"success"`
		State   session.State `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success {
		t.Fatal("success = false")
	}
	if len(resp.State.Accounts) != 1 || resp.State.Accounts[0].Email != "alice@example.com" {
		t.Fatalf("state accounts = %+v", resp.State.Accounts)
	}

	// Passwords must never cross the boundary.
	if strings.Contains(rec.Body.String(), "pw123456") {
		t.Fatal("password leaked into API response")
	}
}

func TestCreateAccountValidatesInput(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{}, 20)

	rec := postJSON(t, srv, "/api/accounts", `{"local_part":"","password":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAccountCapIsEnforcedAtBoundary(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{}, 1)

	if rec := postJSON(t, srv, "/api/accounts", `{"local_part":"alice","password":"pw"}`); rec.Code != http.StatusOK {
		t.Fatalf("first create: status = %d", rec.Code)
	}
	if rec := postJSON(t, srv, "/api/accounts", `{"local_part":"bob","password":"pw"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("second create: status = %d, want 400", rec.Code)
	}

	// Logging into an already-known account is allowed even at the cap.
	if rec := postJSON(t, srv, "/api/login", `{"email":"alice@example.com","password":"pw2"}`); rec.Code != http.StatusOK {
		t.Fatalf("login at cap: status = %d", rec.Code)
	}
	if rec := postJSON(t, srv, "/api/login", `{"email":"new@example.com","password":"pw"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("new login at cap: status = %d, want 400", rec.Code)
	}
}

func TestProviderBusinessErrorMapsToUnprocessable(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{
		createErr: &provider.Error{Action: "create_account", Message: "mailbox already exists"},
	}, 20)

	rec := postJSON(t, srv, "/api/accounts", `{"local_part":"alice","password":"pw"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Success || !strings.Contains(resp.Error, "mailbox already exists") {
		t.Fatalf("response = %+v", resp)
	}
}

func TestStateEndpoint(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{}, 20)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st session.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if st.Accounts == nil || st.Messages == nil {
		t.Fatalf("state slices not initialized: %+v", st)
	}

	if rec := postJSON(t, srv, "/api/state", "{}"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /api/state: status = %d, want 405", rec.Code)
	}
}

func TestSwitchUnknownAccountReturnsNotFound(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{}, 20)

	rec := postJSON(t, srv, "/api/accounts/switch", `{"id":"nope"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSelectEndpointClearsWithNullUID(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{}, 20)

	rec := postJSON(t, srv, "/api/messages/select", `{"uid":null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if rec := postJSON(t, srv, "/api/messages/select", `{"uid":42}`); rec.Code != http.StatusNotFound {
		t.Fatalf("selecting unknown uid: status = %d, want 404", rec.Code)
	}
}
