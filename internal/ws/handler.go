package ws

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-backend/internal/hub"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

// Sessions is the part of the hub the handler needs.
type Sessions interface {
	Lookup(slot int) error
	Submit(slot int, c transport.Conn) error
}

// Handler upgrades /instance/{slot} to a websocket and hands it to the
// session in that slot. It returns once the connection is gone.
func Handler(h Sessions, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
		if err != nil {
			http.Error(w, "slot must be a number", http.StatusBadRequest)
			return
		}
		if err := h.Lookup(slot); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}

		c := transport.NewWS(r.Context(), conn)
		if err := h.Submit(slot, c); err != nil {
			log.Info("session refused connection", zap.Int("slot", slot), zap.Error(err))
			c.Close()
		}
		<-c.Done()
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, hub.ErrNoSession), errors.Is(err, hub.ErrSessionClosed):
		return http.StatusNotFound
	case errors.Is(err, hub.ErrSessionBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
