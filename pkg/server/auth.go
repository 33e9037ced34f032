package server

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/computor-org/computor/pkg/auth"
	"github.com/computor-org/computor/pkg/store"
)

// SessionStore resolves an opaque bearer token to the user it belongs to.
type SessionStore interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// RedisSessions resolves sessions written by the SSO callback: one JSON
// document per token carrying the user id and the provider that minted it.
type RedisSessions struct {
	Client *redis.Client
	Prefix string
}

type sessionRecord struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
}

func (s *RedisSessions) Resolve(ctx context.Context, token string) (string, error) {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "computor:session:"
	}
	raw, err := s.Client.Get(ctx, prefix+token).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("unknown session token")
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve session: %w", err)
	}
	var record sessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return "", fmt.Errorf("corrupt session record: %w", err)
	}
	if record.UserID == "" {
		return "", fmt.Errorf("session carries no user")
	}
	return record.UserID, nil
}

// BasicVerifier checks username/password credentials.
type BasicVerifier interface {
	VerifyBasic(ctx context.Context, username, password string) (string, error)
}

// StaticBasicVerifier verifies against a fixed username/password table from
// the server configuration and maps the username onto a stored user.
type StaticBasicVerifier struct {
	Store     *store.Store
	Passwords map[string]string
}

func (v *StaticBasicVerifier) VerifyBasic(ctx context.Context, username, password string) (string, error) {
	want, ok := v.Passwords[username]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return "", fmt.Errorf("invalid credentials")
	}
	user, err := v.Store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("invalid credentials")
	}
	return user.ID, nil
}

// GitlabTokenVerifier validates a personal access token against its host
// and returns the remote account id it belongs to.
type GitlabTokenVerifier interface {
	Verify(ctx context.Context, url, token string) (string, error)
}

// RemoteGitlabVerifier asks the GitLab instance who the token belongs to.
type RemoteGitlabVerifier struct{}

func (RemoteGitlabVerifier) Verify(ctx context.Context, url, token string) (string, error) {
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(url))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	user, _, err := client.Users.CurrentUser(gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("token rejected by %s: %w", url, err)
	}
	return strconv.Itoa(user.ID), nil
}

// Authenticator turns request credentials into principals. Three schemes
// are supported: Basic, Bearer (opaque session tokens) and GLP-CREDS
// (base64-encoded JSON with a GitLab url and token), the latter either as
// an Authorization scheme or as a dedicated GLP-CREDS header.
type Authenticator struct {
	Store    *store.Store
	Builder  *auth.Builder
	Cache    *auth.PrincipalCache
	Sessions SessionStore
	Basic    BasicVerifier
	Gitlab   GitlabTokenVerifier
	Metrics  *Metrics
	Logger   *logrus.Entry
	// CredentialCacheTTL bounds how long basic and GitLab-token principals
	// stay cached; these credentials can be revoked at the source, so the
	// window is kept short. SessionCacheTTL covers bearer session tokens,
	// which are already short-lived server-side state. Zero means the cache
	// default.
	CredentialCacheTTL time.Duration
	SessionCacheTTL    time.Duration
}

type glpCredentials struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type principalKeyType struct{}

var principalKey principalKeyType

// PrincipalFrom returns the authenticated principal, or nil outside the
// authenticated router group.
func PrincipalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey).(*auth.Principal)
	return p
}

// Middleware authenticates the request and stores the principal in the
// request context. Requests without valid credentials get a 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.Authenticate(r)
		if err != nil {
			if a.Metrics != nil {
				a.Metrics.AuthFailures.Inc()
			}
			if a.Logger != nil {
				a.Logger.WithError(err).Debug("Authentication failed")
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
	})
}

// Authenticate resolves the Authorization header to a principal, consulting
// the principal cache before hitting the database.
func (a *Authenticator) Authenticate(r *http.Request) (*auth.Principal, error) {
	var scheme, payload string
	switch {
	case r.Header.Get("GLP-CREDS") != "":
		scheme, payload = "GLP-CREDS", r.Header.Get("GLP-CREDS")
	case r.Header.Get("Authorization") != "":
		var found bool
		scheme, payload, found = strings.Cut(r.Header.Get("Authorization"), " ")
		if !found || payload == "" {
			return nil, fmt.Errorf("malformed Authorization header")
		}
	default:
		return nil, fmt.Errorf("missing credentials")
	}

	ctx := r.Context()
	credHash := auth.CredentialHash(scheme, payload)
	if a.Cache != nil {
		if p := a.Cache.Get(ctx, credHash); p != nil {
			return p, nil
		}
	}

	var userID string
	var err error
	switch scheme {
	case "Basic":
		userID, err = a.verifyBasic(ctx, payload)
	case "Bearer":
		if a.Sessions == nil {
			return nil, fmt.Errorf("bearer authentication is not configured")
		}
		userID, err = a.Sessions.Resolve(ctx, payload)
	case "GLP-CREDS":
		userID, err = a.verifyGitlab(ctx, payload)
	default:
		return nil, fmt.Errorf("unsupported authorization scheme %q", scheme)
	}
	if err != nil {
		return nil, err
	}

	principal, err := a.Builder.Build(ctx, userID)
	if err != nil {
		return nil, err
	}
	if a.Cache != nil {
		a.Cache.PutWithTTL(ctx, credHash, principal, a.cacheTTL(scheme))
	}
	return principal, nil
}

// cacheTTL selects the cache lifetime for the authentication scheme.
func (a *Authenticator) cacheTTL(scheme string) time.Duration {
	if scheme == "Bearer" {
		return a.SessionCacheTTL
	}
	return a.CredentialCacheTTL
}

func (a *Authenticator) verifyBasic(ctx context.Context, payload string) (string, error) {
	if a.Basic == nil {
		return "", fmt.Errorf("basic authentication is not configured")
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("malformed basic credentials")
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", fmt.Errorf("malformed basic credentials")
	}
	return a.Basic.VerifyBasic(ctx, username, password)
}

func (a *Authenticator) verifyGitlab(ctx context.Context, payload string) (string, error) {
	if a.Gitlab == nil {
		return "", fmt.Errorf("gitlab authentication is not configured")
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("malformed gitlab credentials")
	}
	var creds glpCredentials
	if err := json.Unmarshal(decoded, &creds); err != nil {
		return "", fmt.Errorf("malformed gitlab credentials")
	}
	if creds.URL == "" || creds.Token == "" {
		return "", fmt.Errorf("gitlab credentials need both url and token")
	}
	remoteID, err := a.Gitlab.Verify(ctx, creds.URL, creds.Token)
	if err != nil {
		return "", err
	}
	account, err := a.Store.GetAccount(ctx, "gitlab", remoteID)
	if err != nil {
		return "", fmt.Errorf("no account linked to gitlab user %s", remoteID)
	}
	return account.UserID, nil
}
