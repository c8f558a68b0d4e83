package genai

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResult is returned when the provider answered successfully
	// but produced no image.
	ErrEmptyResult = errors.New("model returned no image")
)

// Request is one model invocation: a prompt plus the source image
type Request struct {
	Prompt    string
	ImageData []byte
	MimeType  string
}

// Image is a single validated variation produced by the model
type Image struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

// Provider is the boundary to the external generative model. One call
// yields at most one variation; callers collect variations across calls.
// Implementations validate the provider response at the boundary so the
// rest of the code never probes optional fields: a call either returns an
// image, ErrEmptyResult, or a transport/provider error.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Image, error)
}
