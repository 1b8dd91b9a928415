package testutil

import (
	"net/http"

	"afterimage/pkg/requestcontext"
)

// WithActor attaches an authenticated actor to the request, as the auth
// middleware would after validating a bearer token.
func WithActor(req *http.Request, actor, tier string) *http.Request {
	if actor == "" {
		return req
	}
	return req.WithContext(requestcontext.WithActor(req.Context(), actor, tier))
}
