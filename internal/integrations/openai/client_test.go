package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codetapasya-backend/internal/domain"
)

type staticKey struct {
	val string
	err error
}

func (k staticKey) Value(context.Context) (string, error) { return k.val, k.err }

var (
	testDecoding = domain.DecodingConfig{Temperature: 0.7, TopP: 0.8, TopK: 40, MaxOutputTokens: 1024}
	testSafety   = domain.SafetyConfig{BlockMediumAndAbove: []domain.HarmCategory{domain.HarmHarassment}}
)

const chatOK = `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
	"choices":[{"index":0,"message":{"role":"assistant","content":"Use a slice."},"finish_reason":"stop"}]}`

func moderationBody(flagged bool) string {
	b, _ := json.Marshal(map[string]any{
		"id":    "m1",
		"model": "omni-moderation-latest",
		"results": []map[string]any{{
			"flagged":         flagged,
			"categories":      map[string]bool{},
			"category_scores": map[string]float64{},
		}},
	})
	return string(b)
}

type upstream struct {
	chatStatus int
	chatBody   string
	modStatus  int
	modBody    string

	chatRequests int
	modRequests  int
	lastChat     map[string]any
	lastAuth     string
}

func (u *upstream) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.lastAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			u.chatRequests++
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &u.lastChat)
			w.WriteHeader(statusOr(u.chatStatus))
			_, _ = io.WriteString(w, u.chatBody)
		case strings.HasSuffix(r.URL.Path, "/moderations"):
			u.modRequests++
			w.WriteHeader(statusOr(u.modStatus))
			_, _ = io.WriteString(w, u.modBody)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statusOr(code int) int {
	if code == 0 {
		return http.StatusOK
	}
	return code
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(staticKey{val: "sk-test"}, "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, "m")
	require.ErrorContains(t, err, "nil")

	_, err = NewClient(staticKey{}, " ")
	require.ErrorContains(t, err, "model")

	c, err := NewClient(staticKey{}, "m", WithBaseURL("  "))
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

func TestGenerate_HappyPath(t *testing.T) {
	u := &upstream{chatBody: chatOK, modBody: moderationBody(false)}
	c := newTestClient(t, u.server(t))

	text, err := c.Generate(context.Background(), "prompt text", testDecoding, testSafety)
	require.NoError(t, err)
	require.Equal(t, "Use a slice.", text)
	require.Equal(t, "Bearer sk-test", u.lastAuth)
	require.Equal(t, 1, u.chatRequests)
	require.Equal(t, 1, u.modRequests)

	require.Equal(t, "gpt-4o-mini", u.lastChat["model"])
	require.InDelta(t, 0.7, u.lastChat["temperature"], 1e-6)
	require.InDelta(t, 0.8, u.lastChat["top_p"], 1e-6)
	require.EqualValues(t, 1024, u.lastChat["max_tokens"])
}

func TestGenerate_FlaggedOutputIsEmpty(t *testing.T) {
	u := &upstream{chatBody: chatOK, modBody: moderationBody(true)}
	text, err := newTestClient(t, u.server(t)).Generate(context.Background(), "p", testDecoding, testSafety)
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestGenerate_NoSafetySkipsModeration(t *testing.T) {
	u := &upstream{chatBody: chatOK}
	text, err := newTestClient(t, u.server(t)).Generate(context.Background(), "p", testDecoding, domain.SafetyConfig{})
	require.NoError(t, err)
	require.Equal(t, "Use a slice.", text)
	require.Zero(t, u.modRequests)
}

func TestGenerate_NoChoices(t *testing.T) {
	u := &upstream{chatBody: `{"id":"c1","object":"chat.completion","choices":[]}`}
	text, err := newTestClient(t, u.server(t)).Generate(context.Background(), "p", testDecoding, testSafety)
	require.NoError(t, err)
	require.Empty(t, text)
	require.Zero(t, u.modRequests)
}

func TestGenerate_429(t *testing.T) {
	u := &upstream{chatStatus: http.StatusTooManyRequests, chatBody: `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`}
	_, err := newTestClient(t, u.server(t)).Generate(context.Background(), "p", testDecoding, testSafety)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
}

func TestGenerate_ModerationFailure(t *testing.T) {
	u := &upstream{chatBody: chatOK, modStatus: http.StatusInternalServerError, modBody: `{"error":{"message":"down"}}`}
	_, err := newTestClient(t, u.server(t)).Generate(context.Background(), "p", testDecoding, testSafety)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	require.Contains(t, statusErr.Error(), "moderation")
}

func TestGenerate_KeyError(t *testing.T) {
	c, err := NewClient(staticKey{err: errors.New("ssm unavailable")}, "m")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "p", testDecoding, testSafety)
	require.ErrorContains(t, err, "ssm unavailable")
}

func TestGenerate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(staticKey{val: "k"}, "m", WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "p", testDecoding, testSafety)
	require.Error(t, err)
}
