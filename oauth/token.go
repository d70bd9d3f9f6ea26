package oauth

import "time"

// Token holds one external identity's credentials. ExpiresAt is always
// derived from the token response (time of exchange + expires_in), never
// advanced incrementally, so repeated reads cannot drift.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// Expired reports whether the access token should be considered stale at
// the given instant. An empty access token always counts as expired so a
// freshly bootstrapped session refreshes before its first request.
func (t Token) Expired(now time.Time) bool {
	return t.AccessToken == "" || !now.Before(t.ExpiresAt)
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to
// +60m when the provider omits expires_in.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
