package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataURIRoundTrip(t *testing.T) {
	original := []byte("binary-image-bytes")
	uri := EncodeDataURI("image/png", original)

	mime, data, err := ParseDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, original, data)
}

func TestParseDataURIRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"http://example.com/image.png",
		"data:image/png,not-base64-marked",
		"data:image/png;base64",
		"data:image/png;base64,!!!not-base64!!!",
	}
	for _, uri := range cases {
		_, _, err := ParseDataURI(uri)
		assert.Error(t, err, "uri %q should be rejected", uri)
	}
}

func TestExtensionForMime(t *testing.T) {
	assert.Equal(t, ".jpg", ExtensionForMime("image/jpeg"))
	assert.Equal(t, ".png", ExtensionForMime("image/png"))
	assert.Equal(t, ".webp", ExtensionForMime("image/webp"))
	assert.Equal(t, ".bin", ExtensionForMime("application/octet-stream"))
}

func TestPerturbPrompt(t *testing.T) {
	assert.Equal(t, "a cat", PerturbPrompt("a cat", 0))

	first := PerturbPrompt("a cat", 1)
	second := PerturbPrompt("a cat", 2)
	assert.NotEqual(t, "a cat", first)
	assert.NotEqual(t, first, second)
	assert.Contains(t, first, "a cat")

	// Phrases cycle once the table is exhausted
	assert.Equal(t, first, PerturbPrompt("a cat", 1+len(perturbations)))
}

func newEnvProvider(t *testing.T, endpoint string) *HTTPProvider {
	t.Helper()
	t.Setenv("GENAI_ENDPOINT", endpoint)
	t.Setenv("GENAI_API_KEY", "test-key")
	p, err := NewHTTPProviderFromEnv()
	require.NoError(t, err)
	return p
}

func TestHTTPProviderGenerate(t *testing.T) {
	var gotAuth string
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"images": []map[string]string{
				{"b64_json": base64.StdEncoding.EncodeToString([]byte("generated")), "mime_type": "image/webp"},
			},
		})
	}))
	defer srv.Close()

	p := newEnvProvider(t, srv.URL)
	img, err := p.Generate(context.Background(), Request{
		Prompt:    "a cat",
		ImageData: []byte("source"),
		MimeType:  "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("generated"), img.Data)
	assert.Equal(t, "image/webp", img.MimeType)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "a cat", gotReq.Prompt)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("source")), gotReq.Image)
}

func TestHTTPProviderEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"images":[]}`))
	}))
	defer srv.Close()

	p := newEnvProvider(t, srv.URL)
	_, err := p.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestHTTPProviderModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":"content_policy","message":"rejected"}}`))
	}))
	defer srv.Close()

	p := newEnvProvider(t, srv.URL)
	_, err := p.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content_policy")
}

func TestHTTPProviderUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newEnvProvider(t, srv.URL)
	_, err := p.Generate(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestNewHTTPProviderRequiresEndpoint(t *testing.T) {
	t.Setenv("GENAI_ENDPOINT", "")
	_, err := NewHTTPProviderFromEnv()
	assert.Error(t, err)
}
