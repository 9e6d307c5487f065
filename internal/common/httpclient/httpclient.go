// Package httpclient provides the resilient HTTP client shared by every CLI
// command. It resolves credentials from a CredentialStore, attaches auth and
// organization headers, retries transport failures and 5xx responses with
// exponential backoff, transparently refreshes session tokens on 401, and
// classifies failures into typed errors. The package requires a
// CredentialStore implementation for server configuration and credentials.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/textport/textport/internal/common/apperrors"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = 1 * time.Second
	defaultMaxDelay   = 10 * time.Second
	defaultUserAgent  = "textport/cli/0.0.0-dev"
)

// CredentialStore provides server configuration and credentials to the
// client. Implementations must resolve environment-variable overrides in
// the getters so the client always sees effective values. The CLI config
// implements this; tests substitute an in-memory store.
type CredentialStore interface {
	// BaseURL returns the effective API base URL.
	BaseURL() string
	// CurrentAPIKey returns the effective API key, "" when absent.
	// An API key takes precedence over a session token.
	CurrentAPIKey() string
	// CurrentToken returns the stored access token, "" when absent.
	CurrentToken() string
	// CurrentRefreshToken returns the stored refresh token, "" when absent.
	CurrentRefreshToken() string
	// ActiveOrg returns the selected organization ID, "" when none.
	ActiveOrg() string
	// SaveTokens persists a refreshed token pair.
	SaveTokens(access, refresh string, expiresIn int64, userID, email string) error
}

// RequestOptions contains per-request options. The zero value issues an
// authenticated request with no body and no query parameters.
type RequestOptions struct {
	Body   map[string]any    // optional JSON body
	Query  map[string]string // optional query parameters; empty values are omitted
	NoAuth bool              // skip the Authorization header
}

// Client makes authenticated requests to the Textport API.
// It is safe for concurrent use; at most one token refresh is in flight
// at a time, with concurrent callers awaiting its outcome.
type Client struct {
	store      CredentialStore
	httpClient *http.Client
	maxRetries uint
	baseDelay  time.Duration
	maxDelay   time.Duration
	userAgent  string

	rateLimit rateLimitTracker

	refreshMu  sync.Mutex
	refreshGen atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxRetries sets the retry budget for transport errors and 5xx
// responses. The client performs at most maxRetries+1 attempts. Default is 3.
func WithMaxRetries(n uint) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithBackoff overrides the retry backoff schedule. The delay before the
// k-th retry is base*2^k capped at max. Used by tests to avoid real sleeps.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = max
	}
}

// New creates a client backed by the given credential store.
func New(store CredentialStore, opts ...Option) *Client {
	c := &Client{
		store:      store,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RateLimitInfo returns the most recently observed rate-limit snapshot
// and whether one has been observed in this process.
func (c *Client) RateLimitInfo() (RateLimitInfo, bool) {
	return c.rateLimit.current()
}

// Request issues one logical API call and returns the decoded JSON body.
// Transport errors and 5xx responses are retried with exponential backoff;
// a first 401 triggers one token refresh and an immediate replay that does
// not consume a retry slot. All other failures are terminal and returned
// as typed errors.
func (c *Client) Request(ctx context.Context, method, p string, opts *RequestOptions) (map[string]any, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	var rawBody []byte
	contentType := ""
	if opts.Body != nil {
		var err error
		rawBody, err = jsonAPI.Marshal(opts.Body)
		if err != nil {
			return nil, apperrors.New("failed to encode request body").Err(err)
		}
		contentType = "application/json"
	}

	return c.do(ctx, method, p, rawBody, contentType, opts.Query, !opts.NoAuth)
}

// Get issues an authenticated GET request.
func (c *Client) Get(ctx context.Context, p string, query map[string]string) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, p, &RequestOptions{Query: query})
}

// Post issues an authenticated POST request with a JSON body.
func (c *Client) Post(ctx context.Context, p string, body map[string]any) (map[string]any, error) {
	return c.Request(ctx, http.MethodPost, p, &RequestOptions{Body: body})
}

// Patch issues an authenticated PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, p string, body map[string]any) (map[string]any, error) {
	return c.Request(ctx, http.MethodPatch, p, &RequestOptions{Body: body})
}

// Delete issues an authenticated DELETE request.
func (c *Client) Delete(ctx context.Context, p string) (map[string]any, error) {
	return c.Request(ctx, http.MethodDelete, p, nil)
}

// do runs the retry/refresh cycle for one logical call. rawBody is
// buffered so the request can be replayed across attempts.
func (c *Client) do(ctx context.Context, method, p string, rawBody []byte, contentType string, query map[string]string, requireAuth bool) (map[string]any, error) {
	u, err := c.buildURL(p, query)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	refreshed := false

	attempt := func() error {
		authHeader := ""
		if requireAuth {
			token, terr := c.bearerToken(ctx, &refreshed)
			if terr != nil {
				return retry.Unrecoverable(terr)
			}
			authHeader = "Bearer " + token
		}

		resp, err := c.perform(ctx, method, u, rawBody, contentType, authHeader)
		if err != nil {
			return err
		}

		// One refresh-and-replay per call. The replay does not count
		// against the retry budget. API-key auth is never refreshed.
		if resp.StatusCode == http.StatusUnauthorized && requireAuth && !refreshed &&
			c.store.CurrentAPIKey() == "" && c.store.CurrentRefreshToken() != "" {
			refreshed = true
			drainAndClose(resp)
			if rerr := c.refresh(ctx); rerr != nil {
				return retry.Unrecoverable(ErrAuthentication.MsgErr("token refresh failed", rerr))
			}
			resp, err = c.perform(ctx, method, u, rawBody, contentType, "Bearer "+c.store.CurrentToken())
			if err != nil {
				return err
			}
		}

		out, herr := c.handleResponse(resp)
		if herr != nil {
			if statusCode(herr) >= http.StatusInternalServerError {
				return herr
			}
			return retry.Unrecoverable(herr)
		}
		result = out
		return nil
	}

	err = retry.Do(attempt,
		retry.Attempts(c.maxRetries+1),
		retry.Delay(c.baseDelay),
		retry.MaxDelay(c.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Uint("attempt", n+1).Err(err).Str("method", method).Str("path", p).Msg("retrying request")
		}),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// perform executes a single HTTP exchange with fresh headers.
func (c *Client) perform(ctx context.Context, method, u string, rawBody []byte, contentType, authHeader string) (*http.Response, error) {
	var body io.Reader
	if rawBody != nil {
		body = bytes.NewReader(rawBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if id, err := uuid.NewV7(); err == nil {
		req.Header.Set("X-Request-Id", id.String())
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if org := c.store.ActiveOrg(); org != "" {
		req.Header.Set("X-Organization-Id", org)
	}

	return c.httpClient.Do(req)
}

// handleResponse records the rate-limit snapshot when all three headers
// are present, classifies non-2xx responses, and decodes the JSON body.
// Empty bodies decode to an empty map.
func (c *Client) handleResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.rateLimit.record(resp.Header)

	if resp.StatusCode >= 400 {
		return nil, Classify(resp.StatusCode, data)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := jsonAPI.Unmarshal(data, &out); err != nil {
		return nil, ErrAPI.MsgErr("failed to decode response body", err)
	}
	return out, nil
}

// bearerToken resolves the credential for the Authorization header.
// An API key always wins. A session token is usable iff its JWT exp claim
// is absent or in the future; a stale token with a refresh token available
// triggers one refresh before failing.
func (c *Client) bearerToken(ctx context.Context, refreshed *bool) (string, error) {
	if key := c.store.CurrentAPIKey(); key != "" {
		return key, nil
	}

	token := c.store.CurrentToken()
	if token != "" && sessionTokenUsable(token) {
		return token, nil
	}

	if c.store.CurrentRefreshToken() != "" && !*refreshed {
		*refreshed = true
		if err := c.refresh(ctx); err != nil {
			return "", ErrAuthentication.MsgErr("token refresh failed", err)
		}
		if token := c.store.CurrentToken(); token != "" {
			return token, nil
		}
	}

	return "", ErrAuthentication.New("no credentials available")
}

// sessionTokenUsable reports whether a stored access token should still be
// sent to the server. Tokens that parse as JWTs are checked against their
// exp claim; opaque tokens are assumed usable and left to the server to
// reject.
func sessionTokenUsable(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Now().Before(exp.Time)
}

// refreshResponse is the wire format of POST /auth/refresh.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
}

// refresh exchanges the stored refresh token for a new token pair and
// persists it. At most one refresh is in flight at a time; callers that
// lose the race return once the winning refresh has completed.
func (c *Client) refresh(ctx context.Context) error {
	gen := c.refreshGen.Load()
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.refreshGen.Load() != gen {
		// Another caller refreshed while we waited on the lock.
		return nil
	}

	refreshToken := c.store.CurrentRefreshToken()
	if refreshToken == "" {
		return errors.New("no refresh token available")
	}

	u, err := c.buildURL("auth/refresh", nil)
	if err != nil {
		return err
	}
	payload, err := jsonAPI.Marshal(map[string]any{"refresh_token": refreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return Classify(resp.StatusCode, data)
	}

	var tokens refreshResponse
	if err := jsonAPI.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if tokens.AccessToken == "" {
		return errors.New("refresh response did not contain an access token")
	}

	if err := c.store.SaveTokens(tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresIn, tokens.UserID, tokens.Email); err != nil {
		return fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}
	c.refreshGen.Add(1)
	return nil
}

// buildURL joins the base URL with the request path and serializes query
// parameters, omitting empty values.
func (c *Client) buildURL(p string, query map[string]string) (string, error) {
	u, err := url.Parse(c.store.BaseURL())
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	u.Path = path.Join(u.Path, p)

	q := u.Query()
	for k, v := range query {
		if v == "" {
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// statusCode extracts the HTTP status from a classified error, 0 otherwise.
func statusCode(err error) int {
	var appErr apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	return 0
}

// drainAndClose discards a response body so the connection can be reused.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
