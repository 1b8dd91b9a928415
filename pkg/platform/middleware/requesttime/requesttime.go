// Package requesttime pins one "now" per HTTP request so logs and audit
// filters within the request agree. Ledger timestamps never come from here.
package requesttime

import (
	"net/http"
	"time"

	"afterimage/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), time.Now().UTC())))
	})
}
