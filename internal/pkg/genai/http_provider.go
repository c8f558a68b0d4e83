package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pixelgen/pixelgen/internal/pkg/env"
)

// HTTPProvider talks to the generative model over its JSON HTTP API
type HTTPProvider struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewHTTPProviderFromEnv builds a provider from GENAI_* environment settings
func NewHTTPProviderFromEnv() (*HTTPProvider, error) {
	endpoint := env.GetEnv("GENAI_ENDPOINT", "")
	if endpoint == "" {
		return nil, fmt.Errorf("GENAI_ENDPOINT is not configured")
	}
	timeout := 30
	if v, err := strconv.Atoi(env.GetEnv("GENAI_TIMEOUT_SECONDS", "30")); err == nil && v > 0 {
		timeout = v
	}
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   env.GetEnv("GENAI_API_KEY", ""),
		model:    env.GetEnv("GENAI_MODEL", "image-alpha-1"),
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}, nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Image  string `json:"image"` // base64 source image
	Mime   string `json:"mime_type"`
}

// generateResponse mirrors the provider wire shape. Everything is optional
// on the wire; Generate validates it into an Image or an error so callers
// never probe optional fields themselves.
type generateResponse struct {
	Images []struct {
		B64      string `json:"b64_json"`
		MimeType string `json:"mime_type"`
	} `json:"images"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate performs one model call and returns one validated variation
func (p *HTTPProvider) Generate(ctx context.Context, req Request) (*Image, error) {
	body, err := json.Marshal(generateRequest{
		Model:  p.model,
		Prompt: req.Prompt,
		Image:  base64.StdEncoding.EncodeToString(req.ImageData),
		Mime:   req.MimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read model response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Warnf("[GenAI] Provider returned status %d: %.200s", resp.StatusCode, raw)
		return nil, fmt.Errorf("model call returned status %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("model error %s: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Images) == 0 {
		return nil, ErrEmptyResult
	}

	first := parsed.Images[0]
	data, err := base64.StdEncoding.DecodeString(first.B64)
	if err != nil {
		return nil, fmt.Errorf("decode model image payload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyResult
	}
	mime := first.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return &Image{Data: data, MimeType: mime}, nil
}
