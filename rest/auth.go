// Copyright 2026 The Genvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/SahanWeerasiri/genvisor"
)

// Auth checks requests against the configured credentials.  A zero Auth
// (neither a user nor a token secret) lets every request through.
type Auth struct {
	user   string
	hash   []byte
	secret []byte
}

// NewAuth builds an Auth from the supervisor's auth section.
func NewAuth(cfg genvisor.AuthConfig) *Auth {
	a := &Auth{user: cfg.User}
	if cfg.PasswordHash != "" {
		a.hash = []byte(cfg.PasswordHash)
	}
	if cfg.TokenSecret != "" {
		a.secret = []byte(cfg.TokenSecret)
	}
	return a
}

// Enabled reports whether any credential is required.
func (a *Auth) Enabled() bool {
	return a != nil && (len(a.hash) != 0 || len(a.secret) != 0)
}

// Check validates the request's Authorization header.
func (a *Auth) Check(r *http.Request) error {
	if !a.Enabled() {
		return nil
	}
	hdr := r.Header.Get("Authorization")
	if strings.HasPrefix(hdr, "Bearer ") {
		if len(a.secret) == 0 {
			return errUnauthorized
		}
		return a.checkToken(strings.TrimPrefix(hdr, "Bearer "))
	}
	user, pass, ok := r.BasicAuth()
	if !ok || len(a.hash) == 0 {
		return errUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) != 1 {
		return errUnauthorized
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(pass)) != nil {
		return errUnauthorized
	}
	return nil
}

func (a *Auth) checkToken(s string) error {
	var claims jwt.RegisteredClaims
	tok, e := jwt.ParseWithClaims(s, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if e != nil || !tok.Valid {
		return errUnauthorized
	}
	return nil
}

// Middleware rejects unauthenticated requests with 401.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e := a.Check(r); e != nil {
			if len(a.hash) != 0 {
				w.Header().Set("WWW-Authenticate", `Basic realm="genvisor"`)
			}
			writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errUnauthorized = errors.New("Unauthorized")

// NewToken mints an HS256 bearer token for subject, valid for ttl.  A zero
// ttl produces a token that never expires.
func NewToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("No token secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		Issuer:   "genvisor",
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// HashPassword returns the bcrypt hash to place in auth.password_hash.
func HashPassword(pass string) (string, error) {
	b, e := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if e != nil {
		return "", e
	}
	return string(b), nil
}
