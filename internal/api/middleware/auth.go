package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"confluencebot/pkg/crypto"
)

// BearerAuth проверяет заголовок Authorization: Bearer <token> по bcrypt-хешу
// из API_TOKEN_HASH. Пустой хеш отключает проверку (локальное развертывание).
//
// bcrypt с cost 12 занимает сотни миллисекунд, поэтому последний принятый
// токен запоминается и дальше сравнивается за константное время.
func BearerAuth(tokenHash string) func(http.Handler) http.Handler {
	if tokenHash == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	var (
		mu       sync.RWMutex
		accepted []byte
	)

	verify := func(token string) bool {
		mu.RLock()
		cached := accepted
		mu.RUnlock()
		if cached != nil && subtle.ConstantTimeCompare(cached, []byte(token)) == 1 {
			return true
		}
		if !crypto.TokenMatches(token, tokenHash) {
			return false
		}
		mu.Lock()
		accepted = []byte(token)
		mu.Unlock()
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="confluence"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}
			if !verify(token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="confluence", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken извлекает токен из заголовка; браузерный WebSocket
// заголовки не шлет, поэтому для него допускается ?token=
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if r.Header.Get("Upgrade") == "websocket" {
		return r.URL.Query().Get("token")
	}
	return ""
}
