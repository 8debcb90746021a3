package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		// Tutoring routes
		r.Route("/chat", func(r chi.Router) {
			r.Post("/query", apiHandler.QueryHandler)
			r.Post("/retrieve", apiHandler.RetrieveHandler)
		})

		// Quiz routes
		r.Route("/quiz", func(r chi.Router) {
			r.Post("/create", apiHandler.CreateQuizHandler)
			r.Post("/publish", apiHandler.PublishQuizHandler)
			r.Get("/list/{subjectID}", apiHandler.ListQuizzesHandler)
			r.Post("/attempt", apiHandler.SubmitAttemptHandler)
			r.Get("/history/{studentID}", apiHandler.AttemptHistoryHandler)
			r.Get("/results/{quizID}", apiHandler.QuizResultsHandler)
			r.Post("/evaluate", apiHandler.EvaluateAnswerHandler)
			r.Post("/topics", apiHandler.ExtractTopicsHandler)
		})

		// Curriculum document routes
		r.Route("/documents/{subjectID}", func(r chi.Router) {
			r.Get("/", apiHandler.ListDocumentsHandler)
			r.Post("/", apiHandler.UploadDocumentHandler)
			r.Delete("/{source}", apiHandler.DeleteDocumentHandler)
		})
	})

	return r
}
