package types

import (
	"github.com/DoyleJ11/tetris-backend/internal/hub"
	"github.com/DoyleJ11/tetris-backend/internal/store"
)

type CreateMatchRequest struct {
	Players []string `json:"players"`
}

type CreateMatchResponse struct {
	Slot int    `json:"slot"`
	Path string `json:"path"` // websocket path to join on
}

type SessionList struct {
	Sessions []hub.Info `json:"sessions"`
}

type ResultList struct {
	Results []store.MatchResult `json:"results"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
