package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"golang.org/x/crypto/bcrypt"
	"pubarmour/internal/pkg/errors"
	"pubarmour/internal/platform/config"
)

// AdminAuth guards the administrative API with the shared secret, supplied in
// the X-Admin-Password header or a "password" field in the JSON body. Unlike
// the delivery routes this channel answers with a structured error: it is not
// adversarial-facing in the same way.
type AdminAuth struct {
	secret     string
	secretHash []byte
}

func NewAdminAuth(cfg config.AdminConfig) *AdminAuth {
	return &AdminAuth{
		secret:     cfg.Secret,
		secretHash: []byte(cfg.SecretHash),
	}
}

func (m *AdminAuth) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get("X-Admin-Password")
		if supplied == "" {
			supplied = bodyPassword(r)
		}
		if supplied == "" || !m.matches(supplied) {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Wrong password", nil)
			return
		}
		next(w, r)
	}
}

func (m *AdminAuth) matches(supplied string) bool {
	if len(m.secretHash) > 0 {
		return bcrypt.CompareHashAndPassword(m.secretHash, []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(m.secret), []byte(supplied)) == 1
}

// bodyPassword pulls the password field out of a JSON body, restoring the
// body afterwards so the handler can still decode it.
func bodyPassword(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}

	var body struct {
		Password string `json:"password"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	return body.Password
}
