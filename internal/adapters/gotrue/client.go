package gotrue

// Package gotrue provides the identity backend adapter for GoTrue-compatible
// auth services (Supabase Auth and self-hosted GoTrue).

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/ports"
)

// Client implements ports.IdentityBackend over the GoTrue REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time

	// verifier checks access tokens locally before they reach the backend.
	verifier *gooidc.IDTokenVerifier
}

// Config holds configuration for the GoTrue client.
type Config struct {
	// BaseURL is the auth API root, e.g. https://<project>.supabase.co/auth/v1.
	BaseURL string
	// APIKey is the public anon key sent in the apikey header.
	APIKey string
	// JWKSURL enables local access token verification when set.
	JWKSURL string
	// Issuer is checked against the iss claim when set.
	Issuer     string
	Timeout    time.Duration
	HTTPClient *http.Client // Optional, defaults to a client with Timeout
	Clock      func() time.Time
}

// NewClient creates a new GoTrue client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gotrue base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gotrue base URL: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gotrue API key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		now:        now,
	}

	if cfg.JWKSURL != "" {
		ctx := gooidc.ClientContext(context.Background(), httpClient)
		keySet := gooidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
		c.verifier = gooidc.NewVerifier(cfg.Issuer, keySet, &gooidc.Config{
			SkipClientIDCheck:    true,
			SkipIssuerCheck:      cfg.Issuer == "",
			SupportedSigningAlgs: []string{gooidc.RS256, gooidc.ES256},
			Now:                  now,
		})
	}
	return c, nil
}

var _ ports.IdentityBackend = (*Client)(nil)

func (c *Client) SignInWithPassword(ctx context.Context, creds domainauth.Credentials) (domainauth.Session, error) {
	body := map[string]string{"email": creds.Email, "password": creds.Password}
	var tok tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &tok); err != nil {
		return domainauth.Session{}, err
	}
	return tok.session(c.now()), nil
}

// SignUp registers a new account. GoTrue answers with a bare user when email
// confirmation is pending and with a full session when it auto-confirms.
func (c *Client) SignUp(ctx context.Context, req ports.SignUpRequest) (domainauth.User, *domainauth.Session, error) {
	body := map[string]any{
		"email":    req.Email,
		"password": req.Password,
		"data":     req.Metadata,
	}
	var resp signUpResponse
	if err := c.do(ctx, http.MethodPost, withRedirect("/signup", req.RedirectTo), "", body, &resp); err != nil {
		return domainauth.User{}, nil, err
	}
	if resp.AccessToken != "" {
		sess := resp.tokenResponse.session(c.now())
		return sess.User, &sess, nil
	}
	return resp.userResponse.user(), nil, nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (domainauth.Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var tok tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &tok); err != nil {
		return domainauth.Session{}, err
	}
	return tok.session(c.now()), nil
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (domainauth.User, error) {
	if err := c.verify(ctx, accessToken); err != nil {
		return domainauth.User{}, err
	}
	var u userResponse
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return domainauth.User{}, err
	}
	return u.user(), nil
}

func (c *Client) UpdateUser(ctx context.Context, accessToken string, attrs ports.UserAttributes) (domainauth.User, error) {
	if err := c.verify(ctx, accessToken); err != nil {
		return domainauth.User{}, err
	}
	body := map[string]string{}
	if attrs.Password != "" {
		body["password"] = attrs.Password
	}
	var u userResponse
	if err := c.do(ctx, http.MethodPut, "/user", accessToken, body, &u); err != nil {
		return domainauth.User{}, err
	}
	return u.user(), nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, withRedirect("/recover", redirectTo), "", body, nil)
}

// verify checks signature and expiry of accessToken against the JWKS when
// local verification is configured.
func (c *Client) verify(ctx context.Context, accessToken string) error {
	if c.verifier == nil {
		return nil
	}
	if _, err := c.verifier.Verify(ctx, accessToken); err != nil {
		code := "bad_jwt"
		var expired *gooidc.TokenExpiredError
		if errors.As(err, &expired) {
			code = "token_expired"
		}
		return &ports.BackendError{Status: http.StatusUnauthorized, Code: code, Message: err.Error()}
	}
	return nil
}

// do sends a JSON request. A non-empty bearer authenticates as the user,
// otherwise the anon key is used.
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	(&oauth2.Token{AccessToken: bearer, TokenType: "bearer"}).SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue %s %s: %w", method, stripQuery(path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", stripQuery(path), err)
	}
	return nil
}

// errorBody covers both the current (error_code/msg) and the legacy
// OAuth-style (error/error_description) error shapes.
type errorBody struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeError(status int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	return &ports.BackendError{
		Status:  status,
		Code:    firstNonEmpty(body.ErrorCode, body.Error),
		Message: firstNonEmpty(body.Msg, body.ErrorDescription, body.Message, http.StatusText(status)),
	}
}

type userResponse struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	ConfirmedAt      *time.Time     `json:"confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (u userResponse) user() domainauth.User {
	confirmed := u.EmailConfirmedAt
	if confirmed == nil {
		confirmed = u.ConfirmedAt
	}
	var meta map[string]string
	for k, v := range u.UserMetadata {
		if v == nil {
			continue
		}
		if meta == nil {
			meta = make(map[string]string, len(u.UserMetadata))
		}
		if s, ok := v.(string); ok {
			meta[k] = s
		} else {
			meta[k] = fmt.Sprint(v)
		}
	}
	return domainauth.User{
		ID:               u.ID,
		Email:            u.Email,
		EmailConfirmedAt: confirmed,
		Metadata:         meta,
		CreatedAt:        u.CreatedAt,
	}
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         userResponse `json:"user"`
}

// token converts the response into an oauth2.Token; expires_at wins over
// expires_in when both are present.
func (t tokenResponse) token(now time.Time) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: t.AccessToken, TokenType: t.TokenType, RefreshToken: t.RefreshToken}
	switch {
	case t.ExpiresAt > 0:
		tok.Expiry = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		tok.Expiry = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}
	return tok
}

func (t tokenResponse) session(now time.Time) domainauth.Session {
	tok := t.token(now)
	return domainauth.Session{
		Tokens:    domainauth.TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken},
		TokenType: strings.ToLower(tok.Type()),
		ExpiresAt: tok.Expiry,
		User:      t.User.user(),
	}
}

type signUpResponse struct {
	tokenResponse
	userResponse
}

// UnmarshalJSON decodes both embedded shapes from the same object; the
// promoted fields of the two do not overlap.
func (s *signUpResponse) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &s.tokenResponse); err != nil {
		return err
	}
	return json.Unmarshal(data, &s.userResponse)
}

func withRedirect(path, redirectTo string) string {
	if redirectTo == "" {
		return path
	}
	return path + "?redirect_to=" + url.QueryEscape(redirectTo)
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
