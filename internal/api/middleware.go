package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CallerHeader carries the authenticated account of the request. The
// gateway in front of the engine is responsible for setting it.
const CallerHeader = "X-Caller-Address"

type callerKey struct{}

// RequireCaller rejects requests without a valid CallerHeader and stores
// the parsed address in the request context.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(CallerHeader))
		if raw == "" {
			writeError(w, "missing "+CallerHeader+" header", http.StatusUnauthorized)
			return
		}
		if !common.IsHexAddress(raw) {
			writeError(w, "invalid "+CallerHeader+" header", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, common.HexToAddress(raw))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerFrom returns the address stored by RequireCaller.
func callerFrom(ctx context.Context) common.Address {
	addr, _ := ctx.Value(callerKey{}).(common.Address)
	return addr
}

// Auth validates a Bearer token or an X-API-Key header against apiKey.
// An empty apiKey disables the check.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeError(w, "missing authentication token", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeError(w, "invalid authentication token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}
