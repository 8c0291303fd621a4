package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/DoyleJ11/tetris-backend/internal/hub"
	"github.com/DoyleJ11/tetris-backend/internal/lobby"
	"github.com/DoyleJ11/tetris-backend/internal/store"
	"github.com/DoyleJ11/tetris-backend/internal/types"
)

const (
	defaultResults = 20
	maxResults     = 100
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// CreateMatch starts a match for a fixed roster, skipping matchmaking.
func CreateMatch(h *hub.Hub, game lobby.GameFunc, maxPlayers int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateMatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		if n := len(req.Players); n < 2 || n > maxPlayers {
			writeError(w, http.StatusBadRequest, "need between 2 and "+strconv.Itoa(maxPlayers)+" players")
			return
		}
		seen := make(map[string]bool, len(req.Players))
		for _, p := range req.Players {
			if p == "" || seen[p] {
				writeError(w, http.StatusBadRequest, "player keys must be unique and non-empty")
				return
			}
			seen[p] = true
		}

		slot := h.Create("match", game(req.Players))
		writeJSON(w, http.StatusCreated, types.CreateMatchResponse{
			Slot: slot,
			Path: "/instance/" + strconv.Itoa(slot),
		})
	}
}

func ListSessions(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.SessionList{Sessions: h.Sessions()})
	}
}

// Results lists the most recent finished matches, newest first.
func Results(rec store.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultResults
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive number")
				return
			}
			limit = min(n, maxResults)
		}
		results, err := rec.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load results")
			return
		}
		writeJSON(w, http.StatusOK, types.ResultList{Results: results})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
