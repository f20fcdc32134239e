package vision

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photarium/enrich/internal/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:         baseURL,
		Model:           "qwen2.5vl:7b",
		Classifications: []string{"Living Things", "Actions"},
		Timeout:         time.Second,
	}, testLogger())
	require.NoError(t, err)
	return c
}

// generateServer responds to /api/generate with the given model text.
func generateServer(t *testing.T, modelText string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req struct {
			Model  string   `json:"model"`
			Prompt string   `json:"prompt"`
			Images []string `json:"images"`
			Stream bool     `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5vl:7b", req.Model)
		assert.False(t, req.Stream)
		assert.Len(t, req.Images, 1)
		assert.Contains(t, req.Prompt, `"Living Things", "Actions"`)

		json.NewEncoder(w).Encode(map[string]string{"response": modelText})
	}))
}

func TestClassifyTags(t *testing.T) {
	srv := generateServer(t, `{"tags_with_classifications": [
		{"tag": "Dog ", "classification": "Living Things"},
		{"tag": "running", "classification": "Actions"}
	]}`)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.ClassifyTags(context.Background(), []byte("fake-image"))
	require.NoError(t, err)

	assert.Equal(t, []job.Tag{
		{Name: "dog", Classification: "Living Things"},
		{Name: "running", Classification: "Actions"},
	}, resp.Tags)
	assert.Zero(t, resp.Dropped)
}

func TestClassifyTagsEmptyListIsSuccess(t *testing.T) {
	srv := generateServer(t, `{"tags_with_classifications": []}`)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.ClassifyTags(context.Background(), []byte("fake-image"))
	require.NoError(t, err)
	assert.Empty(t, resp.Tags)
	assert.Zero(t, resp.Dropped)
}

func TestClassifyTagsExtractsJSONFromProse(t *testing.T) {
	srv := generateServer(t, `Sure! Here are the tags:
{"tags_with_classifications": [{"tag": "tree", "classification": "Living Things"}]}
Let me know if you need anything else.`)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.ClassifyTags(context.Background(), []byte("fake-image"))
	require.NoError(t, err)
	require.Len(t, resp.Tags, 1)
	assert.Equal(t, "tree", resp.Tags[0].Name)
}

func TestClassifyTagsDropsUnconfiguredClassifications(t *testing.T) {
	srv := generateServer(t, `{"tags_with_classifications": [
		{"tag": "dog", "classification": "Living Things"},
		{"tag": "sunset", "classification": "Moods"},
		{"tag": "twilight", "classification": "Moods"}
	]}`)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.ClassifyTags(context.Background(), []byte("fake-image"))
	require.NoError(t, err)

	require.Len(t, resp.Tags, 1)
	assert.Equal(t, "dog", resp.Tags[0].Name)
	assert.Equal(t, 2, resp.Dropped)
}

func TestClassifyTagsDeduplicatesPairs(t *testing.T) {
	srv := generateServer(t, `{"tags_with_classifications": [
		{"tag": "dog", "classification": "Living Things"},
		{"tag": "Dog", "classification": "Living Things"},
		{"tag": "dog", "classification": "Actions"}
	]}`)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.ClassifyTags(context.Background(), []byte("fake-image"))
	require.NoError(t, err)

	// Same name under two configured classifications is the model asserting
	// both; only the exact duplicate pair collapses.
	assert.Equal(t, []job.Tag{
		{Name: "dog", Classification: "Living Things"},
		{Name: "dog", Classification: "Actions"},
	}, resp.Tags)
}

func TestClassifyTagsMalformedResponses(t *testing.T) {
	tests := []struct {
		name      string
		modelText string
	}{
		{name: "no json at all", modelText: "I could not analyze this image."},
		{name: "invalid json", modelText: `{"tags_with_classifications": [`},
		{name: "schema mismatch", modelText: `{"tags": ["dog"]}`},
		{name: "wrong item type", modelText: `{"tags_with_classifications": ["dog"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := generateServer(t, tt.modelText)
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			_, err := c.ClassifyTags(context.Background(), []byte("fake-image"))

			var me *ModelError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, ModelMalformedResponse, me.Kind)
		})
	}
}

func TestClassifyTagsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.ClassifyTags(context.Background(), []byte("fake-image"))

	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelUnreachable, me.Kind)
}

func TestClassifyTagsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := newTestClient(t, srv.URL)
	_, err := c.ClassifyTags(context.Background(), []byte("fake-image"))

	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelUnreachable, me.Kind)
}

func TestClassifyTagsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		BaseURL:         srv.URL,
		Model:           "qwen2.5vl:7b",
		Classifications: []string{"Living Things"},
		HTTPClient:      &http.Client{Timeout: 20 * time.Millisecond},
	}, testLogger())
	require.NoError(t, err)

	_, err = c.ClassifyTags(context.Background(), []byte("fake-image"))

	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelTimeout, me.Kind)
}

func TestClassifyTagsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.ClassifyTags(ctx, []byte("fake-image"))

	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelTimeout, me.Kind)
}

func TestNewClientConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing base url", cfg: Config{Model: "m", Classifications: []string{"A"}}},
		{name: "missing model", cfg: Config{BaseURL: "http://x", Classifications: []string{"A"}}},
		{name: "empty classification set", cfg: Config{BaseURL: "http://x", Model: "m"}},
		{
			name: "template without placeholder",
			cfg: Config{
				BaseURL:         "http://x",
				Model:           "m",
				Classifications: []string{"A"},
				PromptTemplate:  "tag this image",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg, testLogger())
			assert.Error(t, err)
		})
	}
}

func TestClassifyTagsSkipsEmptyNamesWithoutCounting(t *testing.T) {
	srv := generateServer(t, `{"tags_with_classifications": [
		{"tag": "dog", "classification": "Living Things"},
		{"tag": "   ", "classification": "Living Things"},
		{"tag": "", "classification": "Actions"}
	]}`)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.ClassifyTags(context.Background(), []byte("fake-image"))
	require.NoError(t, err)

	require.Len(t, resp.Tags, 1)
	assert.Equal(t, "dog", resp.Tags[0].Name)
	// Dropped counts unconfigured classifications only; blank names under a
	// configured classification are skipped silently.
	assert.Zero(t, resp.Dropped)
}

func TestNormalizeTagsIsIdempotent(t *testing.T) {
	c := newTestClient(t, "http://unused")

	entries := []tagEntry{
		{Tag: " Dog ", Classification: "living things"},
		{Tag: "sunset", Classification: "Moods"},
		{Tag: "running", Classification: "Actions"},
	}

	first, dropped := c.normalizeTags(entries)
	assert.Equal(t, 1, dropped)

	// Feeding normalized output back through changes nothing.
	again := make([]tagEntry, len(first))
	for i, tag := range first {
		again[i] = tagEntry{Tag: tag.Name, Classification: tag.Classification}
	}
	second, droppedAgain := c.normalizeTags(again)
	assert.Equal(t, first, second)
	assert.Zero(t, droppedAgain)
}

func TestExtractJSONObject(t *testing.T) {
	raw, err := extractJSONObject(`{"a": 1}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, string(raw))

	raw, err = extractJSONObject(`prefix {"a": {"b": 2}} suffix`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": {"b": 2}}`, string(raw))

	_, err = extractJSONObject("no braces here")
	assert.Error(t, err)

	_, err = extractJSONObject("open { but never closed")
	assert.Error(t, err)
}
