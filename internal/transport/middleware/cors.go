package middleware

import (
	"strings"

	"github.com/rs/cors"

	"github.com/heartmarshall/tenantkit/internal/config"
)

// CORS returns middleware that handles Cross-Origin Resource Sharing,
// including preflight requests.
func CORS(cfg config.CORSConfig) Middleware {
	c := cors.New(cors.Options{
		AllowedOrigins:   splitCSV(cfg.AllowedOrigins),
		AllowedMethods:   splitCSV(cfg.AllowedMethods),
		AllowedHeaders:   splitCSV(cfg.AllowedHeaders),
		ExposedHeaders:   splitCSV(cfg.ExposedHeaders),
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})
	return c.Handler
}

func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
