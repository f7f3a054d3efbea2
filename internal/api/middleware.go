package api

import (
	"fmt"
	"net/http"
)

func (s *GalChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// identityMiddleware resolves the caller identity and stores it in the
// request context. Callers without a valid identity cookie are keyed by
// their network address and issued one.
func (s *GalChatApp) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.identityFromCookie(r)
		if err != nil {
			id = remoteHost(r)
			token, err := s.createIdentityToken(id, identityExp)
			if err != nil {
				s.log.Println("create identity token:", err)
			} else {
				http.SetCookie(w, createJwtCookie(token, identityExp))
			}
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
