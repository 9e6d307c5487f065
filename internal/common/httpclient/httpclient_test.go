package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory CredentialStore for tests.
type memStore struct {
	mu           sync.Mutex
	baseURL      string
	apiKey       string
	token        string
	refreshToken string
	org          string
	savedUserID  string
	savedEmail   string
}

func (s *memStore) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

func (s *memStore) CurrentAPIKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

func (s *memStore) CurrentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *memStore) CurrentRefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

func (s *memStore) ActiveOrg() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.org
}

func (s *memStore) SaveTokens(access, refresh string, expiresIn int64, userID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = access
	s.refreshToken = refresh
	s.savedUserID = userID
	s.savedEmail = email
	return nil
}

// fastBackoff keeps test retries quick while preserving the doubling schedule.
func fastBackoff() Option {
	return WithBackoff(5*time.Millisecond, 50*time.Millisecond)
}

func newTestClient(baseURL string, opts ...Option) (*Client, *memStore) {
	store := &memStore{baseURL: baseURL, apiKey: "sk_test_abc123"}
	opts = append(opts, fastBackoff())
	return New(store, opts...), store
}

func TestRequestSuccess(t *testing.T) {
	var gotAuth, gotUA, gotOrg, gotReqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotOrg = r.Header.Get("X-Organization-Id")
		gotReqID = r.Header.Get("X-Request-Id")
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","status":"queued"}`))
	}))
	defer srv.Close()

	client, store := newTestClient(srv.URL, WithUserAgent("textport/cli/0.3.0"))
	store.org = "org_42"

	out, err := client.Get(context.Background(), "messages/msg_1", nil)
	require.NoError(t, err)
	assert.Equal(t, "msg_1", out["id"])
	assert.Equal(t, "queued", out["status"])
	assert.Equal(t, "Bearer sk_test_abc123", gotAuth)
	assert.Equal(t, "textport/cli/0.3.0", gotUA)
	assert.Equal(t, "org_42", gotOrg)
	assert.NotEmpty(t, gotReqID)
}

func TestRequestQuerySerialization(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	_, err := client.Get(context.Background(), "messages", map[string]string{
		"limit":  "10",
		"cursor": "", // empty values are omitted
	})
	require.NoError(t, err)
	assert.Equal(t, "limit=10", gotQuery)
}

func TestServerErrorsRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"unavailable","message":"try later"}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, WithMaxRetries(2))
	start := time.Now()
	_, err := client.Get(context.Background(), "messages", nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.EqualValues(t, 3, attempts.Load(), "maxRetries=2 means exactly 3 attempts")
	assert.Equal(t, 503, statusCode(err))
	assert.ErrorIs(t, err, ErrAPI)
	// Two backoff sleeps: base and 2*base.
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
}

func TestClientErrorsNotRetried(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		category error
	}{
		{"validation", 400, `{"error":"invalid_param","message":"bad to"}`, ErrValidation},
		{"credits", 402, `{"message":"balance too low"}`, ErrInsufficientCredits},
		{"not found", 404, `{"message":"no such message"}`, ErrNotFound},
		{"rate limited", 429, `{"message":"slow down","retryAfter":45}`, ErrRateLimited},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client, _ := newTestClient(srv.URL, WithMaxRetries(5))
			_, err := client.Get(context.Background(), "messages", nil)
			require.Error(t, err)
			assert.EqualValues(t, 1, attempts.Load(), "4xx must not be retried")
			assert.ErrorIs(t, err, tc.category)
		})
	}
}

func TestRateLimitErrorRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"slow down","retryAfter":45}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	_, err := client.Post(context.Background(), "messages", map[string]any{"to": "+15550100"})
	require.Error(t, err)

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 45, rle.RetryAfter)
	assert.Equal(t, "slow down", rle.Error())
}

func TestNetworkErrorsRetriedThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			// Drop the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, WithMaxRetries(2))
	out, err := client.Get(context.Background(), "messages/msg_1", nil)
	require.NoError(t, err)
	assert.Equal(t, "msg_1", out["id"])
	assert.EqualValues(t, 3, attempts.Load())
}

func TestUnauthorizedTriggersRefreshAndReplay(t *testing.T) {
	var apiCalls, refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rt_old", body["refresh_token"])
		w.Write([]byte(`{"access_token":"at_new","refresh_token":"rt_new","expires_in":3600,"user_id":"usr_1","email":"dev@example.com"}`))
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer at_new" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"token_expired","message":"session expired"}`))
			return
		}
		w.Write([]byte(`{"id":"msg_1"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memStore{baseURL: srv.URL, token: "at_old", refreshToken: "rt_old"}
	client := New(store, fastBackoff(), WithMaxRetries(0))

	out, err := client.Get(context.Background(), "messages", nil)
	require.NoError(t, err)
	assert.Equal(t, "msg_1", out["id"])
	assert.EqualValues(t, 1, refreshCalls.Load())
	// Original call plus replay; the replay did not consume a retry slot
	// even with maxRetries=0.
	assert.EqualValues(t, 2, apiCalls.Load())
	assert.Equal(t, "at_new", store.CurrentToken())
	assert.Equal(t, "rt_new", store.CurrentRefreshToken())
	assert.Equal(t, "usr_1", store.savedUserID)
}

func TestRefreshFailureRaisesAuthenticationError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant","message":"refresh token revoked"}`))
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"session expired"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memStore{baseURL: srv.URL, token: "at_old", refreshToken: "rt_old"}
	client := New(store, fastBackoff())

	_, err := client.Get(context.Background(), "messages", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestExpiredJWTRefreshedBeforeRequest(t *testing.T) {
	expired := signedJWT(t, time.Now().Add(-time.Hour))
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		w.Write([]byte(`{"access_token":"at_new","refresh_token":"rt_new","expires_in":3600}`))
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at_new", r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memStore{baseURL: srv.URL, token: expired, refreshToken: "rt_old"}
	client := New(store, fastBackoff())

	_, err := client.Get(context.Background(), "messages", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, refreshCalls.Load(), "stale token refreshed before the first attempt")
}

func TestConcurrentRequestsShareOneRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		<-release // hold both callers on the in-flight refresh
		w.Write([]byte(`{"access_token":"at_new","refresh_token":"rt_new","expires_in":3600}`))
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at_new" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"session expired"}`))
			return
		}
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memStore{baseURL: srv.URL, token: "at_old", refreshToken: "rt_old"}
	client := New(store, fastBackoff())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Get(context.Background(), "messages", nil)
		}(i)
	}
	// Give both goroutines time to hit the 401 and queue on the refresh.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, refreshCalls.Load(), "concurrent callers must share one in-flight refresh")
}

func TestAPIKeyTakesPrecedenceOverToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_live_key9", r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	store := &memStore{baseURL: srv.URL, apiKey: "sk_live_key9", token: "at_session"}
	client := New(store, fastBackoff())

	_, err := client.Get(context.Background(), "account", nil)
	require.NoError(t, err)
}

func TestNoAuthSkipsAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	_, err := client.Request(context.Background(), http.MethodGet, "health", &RequestOptions{NoAuth: true})
	require.NoError(t, err)
}

func TestMissingCredentials(t *testing.T) {
	store := &memStore{baseURL: "http://127.0.0.1:0"}
	client := New(store, fastBackoff())

	_, err := client.Get(context.Background(), "messages", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestEmptyResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	out, err := client.Delete(context.Background(), "messages/msg_1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRateLimitSnapshotRecorded(t *testing.T) {
	var sendHeaders atomic.Bool
	sendHeaders.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sendHeaders.Load() {
			w.Header().Set("X-RateLimit-Limit", "100")
			w.Header().Set("X-RateLimit-Remaining", "97")
			w.Header().Set("X-RateLimit-Reset", "1700000060")
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)

	_, ok := client.RateLimitInfo()
	assert.False(t, ok, "absent until first observed")

	_, err := client.Get(context.Background(), "messages", nil)
	require.NoError(t, err)

	info, ok := client.RateLimitInfo()
	require.True(t, ok)
	assert.EqualValues(t, 100, info.Limit)
	assert.EqualValues(t, 97, info.Remaining)
	assert.EqualValues(t, 1700000060, info.Reset)

	// Partial headers leave the previous snapshot intact.
	sendHeaders.Store(false)
	_, err = client.Get(context.Background(), "messages", nil)
	require.NoError(t, err)
	info, ok = client.RateLimitInfo()
	require.True(t, ok)
	assert.EqualValues(t, 97, info.Remaining)
}

func TestUploadFile(t *testing.T) {
	pngMagic := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "logo.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		w.Write([]byte(`{"id":"file_1"}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	out, err := client.UploadFile(context.Background(), "files", UploadSpec{
		Filename: "logo.png",
		Content:  pngMagic,
	})
	require.NoError(t, err)
	assert.Equal(t, "file_1", out["id"])
}

func TestUploadFileRejectsEmptyContent(t *testing.T) {
	client, _ := newTestClient("http://127.0.0.1:0")
	_, err := client.UploadFile(context.Background(), "files", UploadSpec{Filename: "x.txt"})
	assert.Error(t, err)
}

// signedJWT builds an HS256 token with the given expiry for token-usability tests.
func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "usr_1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestSessionTokenUsable(t *testing.T) {
	assert.True(t, sessionTokenUsable("opaque-token"), "opaque tokens are left to the server")
	assert.True(t, sessionTokenUsable(signedJWT(t, time.Now().Add(time.Hour))))
	assert.False(t, sessionTokenUsable(signedJWT(t, time.Now().Add(-time.Minute))))
}
