package httpx

import "net/http"

const (
	corsAllowHeaders = "Origin, X-Requested-With, Content-Type, Accept, Authorization"
	corsAllowMethods = "GET, POST, PATCH, DELETE, OPTIONS"
)

// withCORS sets the cross-origin headers on every response and answers
// preflight requests directly.
func withCORS(origin string, next http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		headers := w.Header()
		headers.Set("Access-Control-Allow-Origin", origin)
		headers.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		headers.Set("Access-Control-Allow-Methods", corsAllowMethods)
		if origin != "*" {
			headers.Add("Vary", "Origin")
		}
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}
