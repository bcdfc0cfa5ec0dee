package middlewares

import "net/http"

// WithNoStore marca la respuesta como no cacheable y variable por cookie: lo
// que ve cada navegador depende de su sesión.
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Add("Vary", "Cookie")
			next.ServeHTTP(w, r)
		})
	}
}
