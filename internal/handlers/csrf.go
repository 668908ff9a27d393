package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sync"
	"time"
)

const (
	csrfCookieName = "rescuex_csrf"
	csrfFormField  = "csrf_token"
	csrfHeader     = "X-CSRF-Token"
	csrfTokenLen   = 32
	csrfMaxAge     = 12 * time.Hour
)

// csrfManager issues double-submit tokens and remembers their expiry
type csrfManager struct {
	mu     sync.RWMutex
	tokens map[string]time.Time // token -> expiry
}

func newCSRFManager() *csrfManager {
	return &csrfManager{tokens: make(map[string]time.Time)}
}

func (m *csrfManager) generate() (string, error) {
	buf := make([]byte, csrfTokenLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(buf)

	m.mu.Lock()
	m.tokens[token] = time.Now().Add(csrfMaxAge)
	m.mu.Unlock()

	return token, nil
}

func (m *csrfManager) valid(token string) bool {
	if token == "" {
		return false
	}
	m.mu.RLock()
	expiry, ok := m.tokens[token]
	m.mu.RUnlock()
	return ok && time.Now().Before(expiry)
}

func (m *csrfManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for token, expiry := range m.tokens {
		if now.After(expiry) {
			delete(m.tokens, token)
		}
	}
}

// csrfToken returns the caller's token, issuing a cookie if it has none.
// Empty in desktop mode.
func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) string {
	if h.disableCSRF {
		return ""
	}
	if cookie, err := r.Cookie(csrfCookieName); err == nil && h.csrf.valid(cookie.Value) {
		return cookie.Value
	}

	token, err := h.csrf.generate()
	if err != nil {
		h.logger.Warnw("Failed to generate CSRF token", "error", err)
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(csrfMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return token
}

// requireCSRF validates the token on state-changing requests and writes a
// 403 if it does not match. Returns false when the response was written.
func (h *Handler) requireCSRF(w http.ResponseWriter, r *http.Request) bool {
	if h.validCSRF(r) {
		return true
	}
	http.Error(w, "Invalid CSRF token", http.StatusForbidden)
	return false
}

func (h *Handler) validCSRF(r *http.Request) bool {
	if h.disableCSRF {
		return true
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}

	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return false
	}

	// Fetch requests send the token as a header, forms as a field
	token := r.Header.Get(csrfHeader)
	if token == "" {
		if err := r.ParseForm(); err != nil {
			return false
		}
		token = r.FormValue(csrfFormField)
	}

	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(token)) == 1 && h.csrf.valid(token)
}
