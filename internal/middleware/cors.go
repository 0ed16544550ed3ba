package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSHandler configures browser access for the dashboard origins. The
// surface is JSON reads plus checkout and notification POSTs; webhook
// deliveries are server-to-server and never preflighted.
func CORSHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	})
}
