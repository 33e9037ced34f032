package server

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/auth"
)

func TestRedisSessionsResolve(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := &RedisSessions{Client: client}

	if err := mr.Set("computor:session:tok-1", `{"user_id":"u1","provider":"keycloak"}`); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	userID, err := sessions.Resolve(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "u1" {
		t.Errorf("expected u1, got %q", userID)
	}

	if _, err := sessions.Resolve(context.Background(), "unknown"); err == nil {
		t.Error("expected an error for an unknown token")
	}
}

type fakeSessions map[string]string

func (f fakeSessions) Resolve(_ context.Context, token string) (string, error) {
	if userID, ok := f[token]; ok {
		return userID, nil
	}
	return "", context.Canceled
}

type fakeGitlabVerifier struct {
	remoteID string
	gotURL   string
}

func (f *fakeGitlabVerifier) Verify(_ context.Context, url, _ string) (string, error) {
	f.gotURL = url
	return f.remoteID, nil
}

func TestAuthenticateBearer(t *testing.T) {
	source := &fakePrincipalSource{roles: map[string][]api.Role{}}
	a := &Authenticator{
		Builder:  auth.NewBuilder(source, nil, nil),
		Sessions: fakeSessions{"tok-1": "u1"},
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	principal, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.UserID == nil || *principal.UserID != "u1" {
		t.Errorf("unexpected principal: %+v", principal)
	}
}

func TestAuthenticateBearerCachesPrincipal(t *testing.T) {
	source := &fakePrincipalSource{roles: map[string][]api.Role{}}
	sessions := fakeSessions{"tok-1": "u1"}
	a := &Authenticator{
		Builder:  auth.NewBuilder(source, nil, nil),
		Sessions: sessions,
		Cache:    auth.NewPrincipalCache(time.Minute, nil, nil, nil),
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	if _, err := a.Authenticate(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The second request must be served from the cache even after the
	// session disappears.
	delete(sessions, "tok-1")
	principal, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("expected the cached principal, got error: %v", err)
	}
	if principal.UserID == nil || *principal.UserID != "u1" {
		t.Errorf("unexpected principal: %+v", principal)
	}
}

func TestCacheTTLPerScheme(t *testing.T) {
	a := &Authenticator{
		CredentialCacheTTL: 10 * time.Second,
		SessionCacheTTL:    time.Hour,
	}
	for scheme, want := range map[string]time.Duration{
		"Basic":     10 * time.Second,
		"GLP-CREDS": 10 * time.Second,
		"Bearer":    time.Hour,
	} {
		if got := a.cacheTTL(scheme); got != want {
			t.Errorf("cacheTTL(%q) = %s, want %s", scheme, got, want)
		}
	}
}

func TestAuthenticateGitlabCredentials(t *testing.T) {
	ts := newTestServer(t)
	verifier := &fakeGitlabVerifier{remoteID: "77"}
	ts.server.auth.Gitlab = verifier

	now := time.Now()
	ts.mock.ExpectQuery("FROM account WHERE provider =").
		WithArgs("gitlab", "77").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at", "created_by", "updated_by",
			"properties", "user_id", "provider", "type", "provider_account_id"}).
			AddRow("a1", 1, now, now, nil, nil, []byte(`{}`), "plain-user", "gitlab", "oauth", "77"))

	payload := base64.StdEncoding.EncodeToString([]byte(`{"url":"https://git.example.com","token":"glpat-x"}`))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "GLP-CREDS "+payload)
	principal, err := ts.server.auth.Authenticate(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.UserID == nil || *principal.UserID != "plain-user" {
		t.Errorf("unexpected principal: %+v", principal)
	}
	if verifier.gotURL != "https://git.example.com" {
		t.Errorf("verifier got url %q", verifier.gotURL)
	}
}

func TestAuthenticateGitlabDedicatedHeader(t *testing.T) {
	ts := newTestServer(t)
	ts.server.auth.Gitlab = &fakeGitlabVerifier{remoteID: "77"}

	now := time.Now()
	ts.mock.ExpectQuery("FROM account WHERE provider =").
		WithArgs("gitlab", "77").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at", "created_by", "updated_by",
			"properties", "user_id", "provider", "type", "provider_account_id"}).
			AddRow("a1", 1, now, now, nil, nil, []byte(`{}`), "plain-user", "gitlab", "oauth", "77"))

	payload := base64.StdEncoding.EncodeToString([]byte(`{"url":"https://git.example.com","token":"glpat-x"}`))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("GLP-CREDS", payload)
	principal, err := ts.server.auth.Authenticate(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.UserID == nil || *principal.UserID != "plain-user" {
		t.Errorf("unexpected principal: %+v", principal)
	}
}

func TestAuthenticateGitlabRejectsMalformedPayload(t *testing.T) {
	ts := newTestServer(t)
	ts.server.auth.Gitlab = &fakeGitlabVerifier{remoteID: "77"}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "GLP-CREDS not-base64!!")
	if _, err := ts.server.auth.Authenticate(req); err == nil {
		t.Error("expected an error for malformed credentials")
	}
}
