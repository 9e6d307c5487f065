package httpclient

import (
	"context"
)

// ClientInterface defines the request surface consumed by command handlers.
// Commands receive a ClientInterface by composition rather than embedding
// the concrete client, so tests can substitute a fake.
type ClientInterface interface {
	// Request issues one logical API call and returns the decoded JSON body.
	Request(ctx context.Context, method, path string, opts *RequestOptions) (map[string]any, error)

	// Get issues an authenticated GET request.
	Get(ctx context.Context, path string, query map[string]string) (map[string]any, error)

	// Post issues an authenticated POST request with a JSON body.
	Post(ctx context.Context, path string, body map[string]any) (map[string]any, error)

	// Patch issues an authenticated PATCH request with a JSON body.
	Patch(ctx context.Context, path string, body map[string]any) (map[string]any, error)

	// Delete issues an authenticated DELETE request.
	Delete(ctx context.Context, path string) (map[string]any, error)

	// UploadFile issues an authenticated multipart file upload.
	UploadFile(ctx context.Context, path string, spec UploadSpec) (map[string]any, error)

	// RateLimitInfo returns the last-observed rate-limit snapshot.
	RateLimitInfo() (RateLimitInfo, bool)
}

// Compile-time check that the client satisfies the command-facing interface.
var _ ClientInterface = &Client{}
