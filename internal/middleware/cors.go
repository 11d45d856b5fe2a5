package middleware

import (
	"net/http"
	"strings"

	"github.com/R3E-Network/entity_gateway/internal/idempotency"
	"github.com/R3E-Network/entity_gateway/internal/tenant"
)

// CORS returns a middleware answering preflight requests and stamping CORS
// headers for the allowed origins. An empty allowlist permits any origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	allowedHeaders := strings.Join([]string{
		"Authorization", "Content-Type", tenant.HeaderTenantID, idempotency.HeaderKey,
	}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Expose-Headers", idempotency.HeaderReplay)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
