package gotrue

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/ports"
)

const testAPIKey = "anon-key"

var fixedNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := Config{BaseURL: srv.URL + "/auth/v1", APIKey: testAPIKey, Clock: func() time.Time { return fixedNow }}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func userJSON() map[string]any {
	return map[string]any{
		"id":                 "4a1c2f4e-0000-4000-8000-000000000001",
		"email":              "jane@example.com",
		"email_confirmed_at": "2025-05-01T09:00:00Z",
		"created_at":         "2025-04-01T09:00:00Z",
		"user_metadata":      map[string]any{"full_name": "Jane Doe", "newsletter": true, "note": nil},
	}
}

func TestNewClient_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		errMsg string
	}{
		{name: "missing base URL", config: Config{APIKey: "k"}, errMsg: "gotrue base URL is required"},
		{name: "invalid base URL", config: Config{BaseURL: "not a url", APIKey: "k"}, errMsg: "gotrue base URL"},
		{name: "missing API key", config: Config{BaseURL: "https://auth.example.com"}, errMsg: "gotrue API key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestClient_SignInWithPassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, testAPIKey, r.Header.Get("apikey"))
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "jane@example.com", body["email"])

		writeJSON(t, w, http.StatusOK, map[string]any{
			"access_token":  "at",
			"token_type":    "bearer",
			"refresh_token": "rt",
			"expires_in":    3600,
			"user":          userJSON(),
		})
	})

	sess, err := c.SignInWithPassword(context.Background(), domainauth.Credentials{Email: "jane@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, domainauth.TokenPair{AccessToken: "at", RefreshToken: "rt"}, sess.Tokens)
	assert.Equal(t, "bearer", sess.TokenType)
	assert.Equal(t, fixedNow.Add(time.Hour), sess.ExpiresAt)
	assert.True(t, sess.User.EmailConfirmed())
	assert.Equal(t, map[string]string{"full_name": "Jane Doe", "newsletter": "true"}, sess.User.Metadata)
}

func TestClient_ExpiresAtPreferredOverExpiresIn(t *testing.T) {
	expiresAt := fixedNow.Add(30 * time.Minute)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"access_token": "at", "refresh_token": "rt2", "expires_in": 3600, "expires_at": expiresAt.Unix(),
		})
	})
	sess, err := c.RefreshSession(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, expiresAt, sess.ExpiresAt)
}

func TestClient_ErrorShapes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		code    string
		message string
	}{
		{
			name:    "current shape",
			status:  http.StatusBadRequest,
			body:    map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"},
			code:    "invalid_credentials",
			message: "Invalid login credentials",
		},
		{
			name:    "legacy oauth shape",
			status:  http.StatusBadRequest,
			body:    map[string]any{"error": "invalid_grant", "error_description": "Email not confirmed"},
			code:    "invalid_grant",
			message: "Email not confirmed",
		},
		{
			name:    "rate limited without body",
			status:  http.StatusTooManyRequests,
			body:    nil,
			code:    "",
			message: "Too Many Requests",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(t, w, tt.status, tt.body)
			})
			_, err := c.SignInWithPassword(context.Background(), domainauth.Credentials{Email: "a@b.c", Password: "x"})
			be, ok := ports.AsBackendError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, be.Status)
			assert.Equal(t, tt.code, be.Code)
			assert.Equal(t, tt.message, be.Message)
		})
	}
}

func TestClient_SignUp(t *testing.T) {
	t.Run("confirmation pending", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/auth/v1/signup", r.URL.Path)
			assert.Equal(t, "https://portal.test/auth/verify-email", r.URL.Query().Get("redirect_to"))
			var body struct {
				Data map[string]string `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Acme", body.Data["company"])

			u := userJSON()
			u["email_confirmed_at"] = nil
			writeJSON(t, w, http.StatusOK, u)
		})
		user, sess, err := c.SignUp(context.Background(), ports.SignUpRequest{
			Email:      "jane@example.com",
			Password:   "pw",
			Metadata:   map[string]string{"company": "Acme"},
			RedirectTo: "https://portal.test/auth/verify-email",
		})
		require.NoError(t, err)
		assert.Nil(t, sess)
		assert.Equal(t, "jane@example.com", user.Email)
		assert.False(t, user.EmailConfirmed())
	})

	t.Run("auto confirmed", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"access_token": "at", "refresh_token": "rt", "expires_in": 60, "user": userJSON(),
			})
		})
		user, sess, err := c.SignUp(context.Background(), ports.SignUpRequest{Email: "jane@example.com", Password: "pw"})
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, sess.User.ID, user.ID)
	})
}

func TestClient_UserEndpointsUseAccessToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		switch r.Method + " " + r.URL.Path {
		case "GET /auth/v1/user", "PUT /auth/v1/user":
			writeJSON(t, w, http.StatusOK, userJSON())
		case "POST /auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()

	user, err := c.GetUser(ctx, "user-token")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", user.Email)

	_, err = c.UpdateUser(ctx, "user-token", ports.UserAttributes{Password: "N3w!pass"})
	require.NoError(t, err)

	require.NoError(t, c.SignOut(ctx, "user-token"))
}

func TestClient_ResetPasswordForEmail(t *testing.T) {
	var gotRedirect string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/recover", r.URL.Path)
		gotRedirect = r.URL.Query().Get("redirect_to")
		writeJSON(t, w, http.StatusOK, map[string]any{})
	})
	require.NoError(t, c.ResetPasswordForEmail(context.Background(), "jane@example.com", "https://portal.test/auth/reset-password"))
	assert.Equal(t, "https://portal.test/auth/reset-password", gotRedirect)
}

func TestClient_GetUserVerifiesAgainstJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var userCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, _ *http.Request) {
		userCalls++
		writeJSON(t, w, http.StatusOK, userJSON())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL: srv.URL + "/auth/v1",
		APIKey:  testAPIKey,
		JWKSURL: srv.URL + "/auth/v1/.well-known/jwks.json",
		Clock:   func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	sign := func(exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
			Subject:   "4a1c2f4e-0000-4000-8000-000000000001",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(exp),
		})
		tok.Header["kid"] = "k1"
		s, signErr := tok.SignedString(key)
		require.NoError(t, signErr)
		return s
	}
	ctx := context.Background()

	user, err := c.GetUser(ctx, sign(fixedNow.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", user.Email)
	assert.Equal(t, 1, userCalls)

	_, err = c.GetUser(ctx, sign(fixedNow.Add(-time.Hour)))
	be, ok := ports.AsBackendError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, be.Status)
	assert.Equal(t, "token_expired", be.Code)

	_, err = c.GetUser(ctx, "garbage")
	be, ok = ports.AsBackendError(err)
	require.True(t, ok)
	assert.Equal(t, "bad_jwt", be.Code)

	_, err = c.UpdateUser(ctx, "garbage", ports.UserAttributes{Password: "N3w!password"})
	be, ok = ports.AsBackendError(err)
	require.True(t, ok)
	assert.Equal(t, "bad_jwt", be.Code)
	assert.Equal(t, 1, userCalls)
}
