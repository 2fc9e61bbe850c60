package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchroom/internal/hub"
	"github.com/DoyleJ11/matchroom/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/games", ListGames(h))
	r.Get("/results", ListResults(h))
	r.Get("/players/{identity}/played/{game}", Played(h))

	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", ListRooms(h))
		r.Post("/", CreateRoom(h))
		r.Get("/{id}", GetRoom(h))
		r.Get("/{id}/ws", ws.Handler(h, log))
	})
	return r
}
