package server

import "senryu/internal/room"

type createRoomRequest struct {
	HostName   string           `json:"hostName"`
	GameConfig *room.GameConfig `json:"gameConfig,omitempty"`
}

type joinRequest struct {
	Name string `json:"name"`
}

type joinByCodeRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type playerRequest struct {
	PlayerID string `json:"playerId"`
}

type redrawRequest struct {
	PlayerID string    `json:"playerId"`
	Slot     room.Slot `json:"slot"`
}

type nextPresenterRequest struct {
	PlayerID      string     `json:"playerId"`
	ExpectedState room.State `json:"expectedState,omitempty"`
}

type scoreRequest struct {
	PlayerID string         `json:"playerId"`
	Scores   map[string]int `json:"scores"`
}

type roomResponse struct {
	Room     room.Room `json:"room"`
	PlayerID string    `json:"playerId,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// streamMessage is the websocket frame carrying a room snapshot.
type streamMessage struct {
	Type string    `json:"type"`
	Room room.Room `json:"room"`
}
