package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-backend/internal/hub"
	"github.com/DoyleJ11/tetris-backend/internal/lobby"
	"github.com/DoyleJ11/tetris-backend/internal/store"
	"github.com/DoyleJ11/tetris-backend/internal/ws"
)

type Deps struct {
	Hub        *hub.Hub
	Results    store.Recorder
	Game       lobby.GameFunc
	MaxPlayers int
	Log        *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/sessions", ListSessions(d.Hub))
	r.Get("/results", Results(d.Results))
	r.Post("/matches", CreateMatch(d.Hub, d.Game, d.MaxPlayers))
	r.Get("/instance/{slot}", ws.Handler(d.Hub, d.Log))
	return r
}
