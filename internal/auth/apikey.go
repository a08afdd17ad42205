// Package auth guards the /v1 API with static API keys.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	// queryName is accepted for websocket upgrades, where browsers cannot set
	// custom headers.
	queryName = "api_key"
)

var (
	ErrMissingAPIKey = errors.New("missing API key")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Keys is a set of accepted API keys. Several keys may be active at once so
// clients can be rotated without downtime.
type Keys struct {
	keys [][]byte
}

// NewKeys drops blank entries. An empty set disables authentication.
func NewKeys(keys ...string) *Keys {
	k := &Keys{}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key != "" {
			k.keys = append(k.keys, []byte(key))
		}
	}
	return k
}

func (k *Keys) Enabled() bool {
	return k != nil && len(k.keys) > 0
}

// Verify reports whether provided matches one of the keys. Every key is
// compared so the timing does not reveal which one matched.
func (k *Keys) Verify(provided string) error {
	if provided == "" {
		return ErrMissingAPIKey
	}
	match := 0
	for _, key := range k.keys {
		match |= subtle.ConstantTimeCompare([]byte(provided), key)
	}
	if match != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

// FromRequest reads the key from X-API-Key, then an "Authorization: Bearer"
// header, then the api_key query parameter.
func FromRequest(r *http.Request) string {
	if key := r.Header.Get(headerName); key != "" {
		return key
	}
	if authz := r.Header.Get("Authorization"); len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return r.URL.Query().Get(queryName)
}

// APIKeyMiddleware rejects requests without a valid key: 401 when none is
// given, 403 when it does not match. A disabled key set lets everything through.
func APIKeyMiddleware(keys *Keys) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !keys.Enabled() {
			c.Next()
			return
		}

		if err := keys.Verify(FromRequest(c.Request)); err != nil {
			status := http.StatusForbidden
			if errors.Is(err, ErrMissingAPIKey) {
				status = http.StatusUnauthorized
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}

		c.Next()
	}
}
