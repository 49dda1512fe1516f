package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

const PrincipalKey contextKey = "principal"

// Principal extracts the authenticated user id set by the upstream auth
// gateway. Credential verification happens there; this service only needs a
// stable owner identity for the ownership guard.
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "Authentication required",
			})
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetPrincipal(ctx context.Context) string {
	if userID, ok := ctx.Value(PrincipalKey).(string); ok {
		return userID
	}
	return ""
}
