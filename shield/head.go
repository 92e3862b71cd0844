package shield

import "net/http"

// HeadToGet serves HEAD through the GET routes. Display devices probe the
// canvas page with HEAD before loading it; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
