package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	sessionCookieName = "twilioreport_session"
	sessionMaxAge     = 7 * 24 * time.Hour
)

// Session is the signed, encrypted cookie payload.
type Session struct {
	UserID    string
	AccountID string
}

// SessionManager reads and writes the session cookie.
type SessionManager struct {
	codec  *securecookie.SecureCookie
	secure bool
}

// NewSessionManager signs cookies with hashKey and encrypts them with
// blockKey. Missing keys are generated, which logs everyone out on restart.
func NewSessionManager(hashKey, blockKey []byte, secure bool) *SessionManager {
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
	}
	if len(blockKey) == 0 {
		blockKey = securecookie.GenerateRandomKey(32)
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(sessionMaxAge.Seconds()))
	return &SessionManager{codec: codec, secure: secure}
}

// Load returns the session carried by r, if any.
func (m *SessionManager) Load(r *http.Request) (Session, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return Session{}, false
	}
	var s Session
	if err := m.codec.Decode(sessionCookieName, c.Value, &s); err != nil || s.UserID == "" {
		return Session{}, false
	}
	return s, true
}

// Save writes s as the session cookie.
func (m *SessionManager) Save(w http.ResponseWriter, s Session) error {
	if s.UserID == "" {
		return errors.New("session without user")
	}
	value, err := m.codec.Encode(sessionCookieName, s)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
