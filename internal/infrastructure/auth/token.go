package auth

import "net/http"

// DefaultCookieNames are the cookie names checked for the access token, in
// order. The CRUD tier has renamed its auth cookie once already; accept
// both spellings.
var DefaultCookieNames = []string{"token", "access_token"}

// TokenFromRequest extracts the access token from the upgrade request.
// Cookies are checked first; a `token` query parameter is accepted as a
// fallback for clients that cannot send cookies cross-origin. Returns the
// empty string when no credential is present.
func TokenFromRequest(r *http.Request, cookieNames []string) string {
	if len(cookieNames) == 0 {
		cookieNames = DefaultCookieNames
	}
	for _, name := range cookieNames {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return r.URL.Query().Get("token")
}
