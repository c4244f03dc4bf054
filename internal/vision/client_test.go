package vision

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCompletions serves a canned chat completions answer and records the
// request for inspection.
func fakeCompletions(t *testing.T, answer string, status int) (*httptest.Server, *chatRequest) {
	t.Helper()
	var got chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"upstream unhappy"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": answer}},
			},
		})
	}))
	t.Cleanup(ts.Close)
	return ts, &got
}

func newTestClient(baseURL string) *Client {
	return New(&Opts{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "openai/gpt-4o-mini",
		Logger:  testLogger(),
	})
}

func TestDetectLabels(t *testing.T) {
	answer := `[{"label":"dog","confidence":0.95},{"label":"blur","confidence":0.4},{"label":"park","confidence":0.7}]`
	ts, got := fakeCompletions(t, answer, http.StatusOK)

	c := newTestClient(ts.URL)
	labels := c.DetectLabels(context.Background(), []byte("img"), "image/jpeg")

	// 0.4 is below the confidence floor, 0.7 is on it.
	require.Len(t, labels, 2)
	assert.Equal(t, "dog", labels[0].Description)
	assert.Equal(t, 0.95, labels[0].Score)
	assert.Equal(t, "park", labels[1].Description)

	// Image travels as a base64 data URL in a multimodal message.
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	part := got.Messages[0].Content[1]
	require.NotNil(t, part.ImageURL)
	assert.True(t, strings.HasPrefix(part.ImageURL.URL, "data:image/jpeg;base64,"))
}

func TestDetectLabels_UnparseableAnswer(t *testing.T) {
	ts, _ := fakeCompletions(t, "I see a lovely dog in a park.", http.StatusOK)

	c := newTestClient(ts.URL)
	labels := c.DetectLabels(context.Background(), []byte("img"), "image/jpeg")
	assert.Empty(t, labels)
}

func TestDetectLabels_RemoteError(t *testing.T) {
	ts, _ := fakeCompletions(t, "", http.StatusBadGateway)

	c := newTestClient(ts.URL)
	labels := c.DetectLabels(context.Background(), []byte("img"), "image/jpeg")
	assert.Empty(t, labels)
}

func TestDetectLabels_NoAPIKey(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	c := New(&Opts{BaseURL: ts.URL, Model: "m", Logger: testLogger()})
	labels := c.DetectLabels(context.Background(), []byte("img"), "image/png")

	assert.Empty(t, labels)
	assert.False(t, called, "degraded mode must not reach the network")
}

func TestGenerateCaption(t *testing.T) {
	ts, got := fakeCompletions(t, "  A dog running across a sunlit park.\n", http.StatusOK)

	c := newTestClient(ts.URL)
	caption := c.GenerateCaption(context.Background(), []byte("img"), "image/jpeg")

	assert.Equal(t, "A dog running across a sunlit park.", caption)
	assert.Equal(t, "openai/gpt-4o-mini", got.Model)
}

func TestGenerateCaption_Failures(t *testing.T) {
	ts, _ := fakeCompletions(t, "", http.StatusTooManyRequests)
	c := newTestClient(ts.URL)
	assert.Empty(t, c.GenerateCaption(context.Background(), []byte("img"), "image/jpeg"))

	// Unreachable endpoint degrades the same way.
	down := New(&Opts{BaseURL: "http://127.0.0.1:1", APIKey: "k", Model: "m", Logger: testLogger()})
	assert.Empty(t, down.GenerateCaption(context.Background(), []byte("img"), "image/jpeg"))
}

func TestGenerateCaption_EmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	assert.Empty(t, c.GenerateCaption(context.Background(), []byte("img"), "image/jpeg"))
}
