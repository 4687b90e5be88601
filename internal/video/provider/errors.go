package provider

import "errors"

// Validation errors raised synchronously by CreateTask. These never
// enter the queue; the immediate caller handles them.
var (
	// ErrMissingPrompt indicates a text-to-video request without a prompt.
	ErrMissingPrompt = errors.New("prompt is required for text-to-video generation")

	// ErrMissingImage indicates an image-to-video request without a source image.
	ErrMissingImage = errors.New("source image is required for image-to-video generation")

	// ErrUnknownKind indicates a request for a backend kind the factory
	// has no builder for.
	ErrUnknownKind = errors.New("unknown provider kind")
)
