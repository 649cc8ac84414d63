package core

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"alertrelay/internal/types"
)

// maxVerifiedKeys bounds the cache of keys whose bcrypt check succeeded.
const maxVerifiedKeys = 1024

type producerKey struct {
	name string
	hash []byte
}

// ProducerAuth authenticates event producers by API key. Keys are stored
// only as bcrypt hashes; a successful comparison is cached by the SHA-256
// of the key so steady traffic does not pay the bcrypt cost per request.
type ProducerAuth struct {
	keys []producerKey

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// NewProducerAuth parses "name:bcrypt-hash" entries. It returns nil when
// entries is empty, which disables authentication.
func NewProducerAuth(entries []string) (*ProducerAuth, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	a := &ProducerAuth{verified: make(map[[sha256.Size]byte]string)}
	for _, entry := range entries {
		name, hash, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("producer key entry %q must be name:hash", name)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("producer %q: invalid bcrypt hash: %w", name, err)
		}
		a.keys = append(a.keys, producerKey{name: name, hash: []byte(hash)})
	}
	return a, nil
}

// Authenticate returns the producer name for key.
func (a *ProducerAuth) Authenticate(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	name, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return name, true
	}

	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword(k.hash, []byte(key)) == nil {
			a.mu.Lock()
			if len(a.verified) >= maxVerifiedKeys {
				a.verified = make(map[[sha256.Size]byte]string)
			}
			a.verified[digest] = k.name
			a.mu.Unlock()
			return k.name, true
		}
	}
	return "", false
}

// AuthMiddleware requires a valid producer key on every request it wraps
// and stores the producer name in the context. The key is read from
// "Authorization: Bearer <key>" or "X-Api-Key". It passes through when
// s.Auth is nil.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := extractBearerToken(r.Header.Get("Authorization"))
		if key == "" {
			key = strings.TrimSpace(r.Header.Get("X-Api-Key"))
		}
		if key == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "API key is required")
			return
		}

		producer, ok := s.Auth.Authenticate(key)
		if !ok {
			s.Logger.Warn("authentication failed: unknown key",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithProducer(r.Context(), producer)))
	})
}

// extractBearerToken returns the token of a "Bearer <token>" header value
// (case-insensitive scheme), or "".
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="alertrelay"`)
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
