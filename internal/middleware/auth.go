package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	svcerrors "github.com/R3E-Network/shipyard/internal/errors"
	"github.com/R3E-Network/shipyard/internal/httputil"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

// AdminAuth guards operator endpoints with static bearer tokens.
type AdminAuth struct {
	tokens [][]byte
	log    *logger.Logger
}

// NewAdminAuth creates the guard. With no tokens every request is refused.
func NewAdminAuth(tokens []string, log *logger.Logger) *AdminAuth {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	a := &AdminAuth{log: log}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// Handler returns the middleware handler
func (a *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			a.reject(w, r, "missing bearer token")
			return
		}
		if !a.valid(token) {
			a.reject(w, r, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(logger.WithActor(r.Context(), "admin")))
	})
}

func (a *AdminAuth) valid(token string) bool {
	candidate := []byte(token)
	match := 0
	for _, t := range a.tokens {
		match |= subtle.ConstantTimeCompare(candidate, t)
	}
	return match == 1
}

func (a *AdminAuth) reject(w http.ResponseWriter, r *http.Request, reason string) {
	a.log.WithContext(r.Context()).WithField("path", r.URL.Path).WithField("reason", reason).Warn("admin authentication failed")
	httputil.WriteServiceError(w, r, svcerrors.Unauthorized(reason))
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
