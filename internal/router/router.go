package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"lumina-exam-agent/internal/handlers"
	"lumina-exam-agent/internal/metrics"
	"lumina-exam-agent/internal/middleware"
	"lumina-exam-agent/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	examSessionHandler *handlers.ExamSessionHandler,
	offlineHandler *handlers.OfflineHandler,
	wsHub *websocket.Hub,
	syncLimiter *middleware.RateLimiter,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))
	r.Use(metrics.Middleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Exam Session Routes ────
		r.Route("/exam-sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", examSessionHandler.Start)
			r.Get("/current", examSessionHandler.Current)
			r.Delete("/current", examSessionHandler.End)
			r.Post("/current/takeover", examSessionHandler.TakeOver)
		})

		// ──── Submission Routes ────
		r.Route("/submissions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", offlineHandler.Submit)
			r.Get("/pending", offlineHandler.ListPending)
		})

		// ──── Sync Routes ────
		r.Route("/sync", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/status", offlineHandler.SyncStatus)
			r.With(syncLimiter.Middleware).Post("/", offlineHandler.Sync)
		})

		// ──── Draft Routes ────
		r.Route("/drafts", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", offlineHandler.ListDrafts)
			r.Put("/{questionId}", offlineHandler.PutDraft)
			r.Get("/{questionId}", offlineHandler.GetDraft)
			r.Delete("/{questionId}", offlineHandler.DeleteDraft)
		})

		// ──── Attempt Routes ────
		r.Route("/attempts", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Delete("/{attemptId}", offlineHandler.ClearAttempt)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}

// NewSyncLimiter caps manual sync requests per client.
func NewSyncLimiter() *middleware.RateLimiter {
	return middleware.NewRateLimiter(6, time.Minute)
}
