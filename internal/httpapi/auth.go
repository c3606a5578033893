package httpapi

import (
	"context"
	"log"
	"net/http"
	"strings"

	firebase "firebase.google.com/go"
)

// FirebaseAuth verifies a Firebase ID token on the Authorization: Bearer
// header, adapted from services/user.go's AuthMiddleware/InitFirebase. Server
// installs it in front of /api/ only when given one in Options.Auth; the
// fan-out WebSocket and /healthz, /metrics stay open. main.go does not
// construct one, so with config.api.auth_enabled set it only logs a warning.
type FirebaseAuth struct {
	app *firebase.App
}

func NewFirebaseAuth(app *firebase.App) *FirebaseAuth { return &FirebaseAuth{app: app} }

func (a *FirebaseAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		client, err := a.app.Auth(context.Background())
		if err != nil {
			log.Printf("httpapi: firebase auth client error: %v", err)
			http.Error(w, "internal auth error", http.StatusInternalServerError)
			return
		}
		if _, err := client.VerifyIDToken(context.Background(), tokenString); err != nil {
			log.Printf("httpapi: invalid token: %v", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
