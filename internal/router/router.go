package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voyaiage/go-tourism-chatbot/internal/api/auth"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/chat"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/travellog"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/upload"
)

// Pinger reports backing-store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config contains the handlers and middleware the router wires up.
type Config struct {
	AuthHandler            *auth.HandlerImpl
	ChatHandler            *chat.HandlerImpl
	TravelLogHandler       *travellog.HandlerImpl
	UploadHandler          *upload.HandlerImpl
	AuthenticateMiddleware func(http.Handler) http.Handler
	AllowedOrigins         []string
	DB                     Pinger
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are applied
// before mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/uploads/*", cfg.UploadHandler.ServeImage)

	r.Route("/api/v1", func(r chi.Router) {

		// Public routes
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", cfg.AuthHandler.Register)
			r.Post("/auth/login", cfg.AuthHandler.Login)
			r.Post("/auth/refresh", cfg.AuthHandler.Refresh)

			// The chatbot itself is session-keyed, not account-keyed.
			r.Get("/chat/health", healthHandler(cfg.DB))
			r.Post("/chat/message", cfg.ChatHandler.SendMessage)
			r.Post("/chat/message/stream", cfg.ChatHandler.SendMessageStream)
			r.Get("/chat/history", cfg.ChatHandler.GetHistory)
			r.Get("/chat/context", cfg.ChatHandler.GetContext)
			r.Post("/chat/context/visited", cfg.ChatHandler.AddVisitedLocation)
			r.Delete("/chat/context/visited", cfg.ChatHandler.RemoveVisitedLocation)
			r.Put("/chat/context/revisit", cfg.ChatHandler.SetRevisitPreference)
			r.Post("/chat/context/clear", cfg.ChatHandler.ClearContext)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)

			r.Post("/auth/logout", cfg.AuthHandler.Logout)
			r.Post("/auth/logout-all", cfg.AuthHandler.LogoutAll)
			r.Get("/auth/me", cfg.AuthHandler.Me)

			r.Post("/travellog", cfg.TravelLogHandler.AddEntry)
			r.Get("/travellog", cfg.TravelLogHandler.ListEntries)
			r.Put("/travellog/{entryID}", cfg.TravelLogHandler.UpdateNote)
			r.Delete("/travellog/{entryID}", cfg.TravelLogHandler.DeleteEntry)

			r.Post("/uploads", cfg.UploadHandler.UploadImage)
		})
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		database := "up"
		code := http.StatusOK
		if db == nil || db.Ping(r.Context()) != nil {
			status = "degraded"
			database = "down"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":   status,
			"database": database,
		})
	}
}
