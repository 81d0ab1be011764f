package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/surfboard-io/surfboard/pkg/auth"
	"github.com/surfboard-io/surfboard/pkg/ratelimit"
	"github.com/surfboard-io/surfboard/pkg/session"
)

// Machine-parseable error codes carried in the "error" field.
const (
	errCodeRateLimited     = "rate_limited"
	errCodeUnauthenticated = "unauthenticated"
	errCodeCapacity        = "capacity"
	errCodeResourceFailed  = "resource_creation_failed"
	errCodeInternal        = "internal"
	errCodeNotFound        = "not_found"
	errCodeBadRequest      = "bad_request"
)

// errorBody is the generic structured error payload.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// rateLimitedBody is the rate limit rejection payload. It carries both a
// numeric retry hint and a human-readable one.
type rateLimitedBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
	RetryAfterHuman   string `json:"retry_after_human"`
	Limit             int    `json:"limit"`
	WindowMinutes     int    `json:"window_minutes"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// setRateLimitHeaders advertises the caller's budget on every response.
func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// writeRateLimited responds 429 with retry headers and the structured
// rejection payload.
func writeRateLimited(w http.ResponseWriter, d ratelimit.Decision) {
	retry := d.RetryAfter(time.Now())
	human := humanizeDuration(retry)
	windowMinutes := int(d.Window.Minutes())

	w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
	writeJSON(w, http.StatusTooManyRequests, rateLimitedBody{
		Error: errCodeRateLimited,
		Message: fmt.Sprintf("rate limit of %d requests per %d minutes exceeded, try again in %s",
			d.Limit, windowMinutes, human),
		RetryAfterSeconds: int(retry / time.Second),
		RetryAfterHuman:   human,
		Limit:             d.Limit,
		WindowMinutes:     windowMinutes,
	})
}

// writeUnauthorized responds 401, advertising the accepted schemes and
// the identity provider's endpoints when one is configured.
func writeUnauthorized(w http.ResponseWriter, v *auth.Validator, err error) {
	schemes := v.Schemes()
	authorization, token := v.ProviderEndpoints()
	if challenge := buildChallenge(schemes, authorization, token); challenge != "" {
		w.Header().Set("WWW-Authenticate", challenge)
	}

	msg := "authentication required"
	if len(schemes) > 0 {
		msg += " via " + strings.Join(schemes, " or ")
	}
	if !errors.Is(err, auth.ErrNoCredentials) {
		msg = "invalid credentials, " + msg
	}
	writeError(w, http.StatusUnauthorized, errCodeUnauthenticated, msg)
}

// buildChallenge renders the WWW-Authenticate value. The Bearer challenge
// names the provider's authorization and token endpoints so clients can
// obtain a token without out-of-band configuration.
func buildChallenge(schemes []string, authorization, token string) string {
	parts := make([]string, 0, len(schemes))
	for _, scheme := range schemes {
		if scheme == "Bearer" && authorization != "" {
			parts = append(parts, fmt.Sprintf("Bearer authorization_uri=%q, token_uri=%q",
				authorization, token))
			continue
		}
		parts = append(parts, scheme)
	}
	return strings.Join(parts, ", ")
}

// writeCapacity responds 503 with the admission rejection payload. The
// message names the ceiling and the idle reclamation behavior so callers
// know a retry is worthwhile.
func writeCapacity(w http.ResponseWriter, capErr *session.CapacityError) {
	writeError(w, http.StatusServiceUnavailable, errCodeCapacity, capErr.Error())
}

// humanizeDuration renders a retry hint for humans: "45 seconds",
// "1 minute", "2 hours".
func humanizeDuration(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 60 {
		return plural(secs, "second")
	}
	mins := (secs + 30) / 60
	if mins < 60 {
		return plural(mins, "minute")
	}
	return plural((mins+30)/60, "hour")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
