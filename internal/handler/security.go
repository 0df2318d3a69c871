package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/swiftsip/dispatch/internal/domain/partner"
)

type keyContextKey struct{}

// KeyFromContext returns the authenticated API key, or nil when the request
// was not authenticated (auth disabled, as in tests).
func KeyFromContext(ctx context.Context) *partner.APIKey {
	key, _ := ctx.Value(keyContextKey{}).(*partner.APIKey)
	return key
}

// HashAPIKey derives the stored hash for a raw API key. The pepper is a
// server-side secret so a leaked api_keys table alone cannot be replayed.
func HashAPIKey(raw, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// APIKeyAuth authenticates every request via the api_key header. Keys are
// looked up by their peppered HMAC so raw keys are never stored.
func APIKeyAuth(keys partner.KeyRepository, pepper string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("api_key")
			if raw == "" {
				writeError(w, r, http.StatusUnauthorized, "api_key header is required")
				return
			}

			hash := HashAPIKey(raw, pepper)
			key, err := keys.FindByHash(r.Context(), hash)
			if err != nil {
				if errors.Is(err, partner.ErrKeyNotFound) {
					writeError(w, r, http.StatusUnauthorized, "invalid api key")
					return
				}
				zctx.From(r.Context()).Error("api key lookup", zap.Error(err))
				writeError(w, r, http.StatusInternalServerError, "internal error")
				return
			}
			if subtle.ConstantTimeCompare([]byte(hash), []byte(key.KeyHash)) != 1 {
				writeError(w, r, http.StatusUnauthorized, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), keyContextKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
