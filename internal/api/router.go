package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(apiHandler.logger))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// Authenticated by the token query parameter.
	r.Get("/ws/chat", apiHandler.ChatSocketHandler)

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/auth/signup", apiHandler.SignupHandler)
		r.Post("/auth/login", apiHandler.LoginHandler)
		r.Get("/health", apiHandler.HealthHandler)
		r.Get("/exercises/skills", apiHandler.SkillsHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/session", apiHandler.StateHandler)
			r.Get("/user/stats", apiHandler.StatsHandler)

			r.Post("/chat/message", apiHandler.PostMessageHandler)
			r.Get("/chat/history", apiHandler.HistoryHandler)
			r.Delete("/chat/history", apiHandler.ClearScreenHandler)
			r.Get("/chat/transcript", apiHandler.TranscriptHandler)

			r.Get("/settings", apiHandler.GetSettingsHandler)
			r.Put("/settings", apiHandler.UpdateSettingsHandler)
			r.Delete("/settings", apiHandler.ResetSettingsHandler)

			r.Get("/study-time", apiHandler.StudyTimeHandler)
			r.Post("/study-time/heartbeat", apiHandler.HeartbeatHandler)
			r.Post("/study-time/stop", apiHandler.StopStudyHandler)

			r.Get("/checklist", apiHandler.GetChecklistHandler)
			r.Put("/checklist", apiHandler.PutChecklistHandler)

			r.Post("/analyze-text", apiHandler.AnalyzeTextHandler)
			r.Get("/exercises/generate", apiHandler.GenerateExerciseHandler)
			r.Post("/exercises/start", apiHandler.StartExerciseHandler)
		})
	})

	return r
}
