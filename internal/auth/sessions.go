package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	sessionCookieName = "session"
	sessionLifetime   = 14 * 24 * time.Hour
)

// Sessions signs and verifies the session cookie. The cookie value is
// "<user id>|<unix expiry>.<signature>".
type Sessions struct {
	secret []byte
	secure bool
	now    func() time.Time
}

// NewSessions creates Sessions signing with secret.
func NewSessions(secret string, secure bool) *Sessions {
	return NewSessionsWithClock(secret, secure, time.Now)
}

// NewSessionsWithClock creates Sessions with a custom clock for testing
func NewSessionsWithClock(secret string, secure bool, now func() time.Time) *Sessions {
	return &Sessions{
		secret: []byte(secret),
		secure: secure,
		now:    now,
	}
}

// Issue sets a signed session cookie for the user.
func (s *Sessions) Issue(w http.ResponseWriter, userID string) {
	expires := s.now().Add(sessionLifetime)
	payload := userID + "|" + strconv.FormatInt(expires.Unix(), 10)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    payload + "." + s.sign(payload),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
}

// Clear deletes the session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// Parse validates the request's session cookie and returns its user id.
func (s *Sessions) Parse(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}

	i := strings.LastIndex(c.Value, ".")
	if i < 0 {
		return "", false
	}
	payload, sig := c.Value[:i], c.Value[i+1:]
	if !hmac.Equal([]byte(sig), []byte(s.sign(payload))) {
		return "", false
	}

	userID, expiry, ok := strings.Cut(payload, "|")
	if !ok || userID == "" {
		return "", false
	}
	unix, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil || !s.now().Before(time.Unix(unix, 0)) {
		return "", false
	}
	return userID, true
}

func (s *Sessions) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
