package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "afterimage/pkg/domain-errors"
	"afterimage/pkg/platform/httputil"
	"afterimage/pkg/requestcontext"
)

// Header carries the operator token.
const Header = "X-Admin-Token"

// RequireAdminToken guards operator routes (full-chain verification, replay).
// An empty expected token rejects every request.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sent := r.Header.Get(Header)
			if expectedToken != "" && subtle.ConstantTimeCompare([]byte(sent), []byte(expectedToken)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			logger.WarnContext(ctx, "security: operator route without valid admin token",
				"request_id", requestcontext.RequestID(ctx),
				"actor", requestcontext.Actor(ctx),
				"path", r.URL.Path,
				"token_present", sent != "",
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
		})
	}
}
