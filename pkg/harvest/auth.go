package harvest

import (
	"context"
	"net/http"
)

// APIKey returns middleware that sets an API key header. The header
// defaults to Authorization.
func APIKey(header, key string) Middleware {
	if header == "" {
		header = "Authorization"
	}
	return func(_ context.Context, req *http.Request) error {
		if key != "" {
			req.Header.Set(header, key)
		}
		return nil
	}
}

// BearerToken returns middleware that sets a bearer Authorization header.
func BearerToken(token string) Middleware {
	return func(_ context.Context, req *http.Request) error {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return nil
	}
}
