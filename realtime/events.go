/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package realtime carries room snapshots from the server to every
// subscriber of a room's channel over websockets.
package realtime

import (
	"github.com/Seednode/impostor/room"
)

type EventType string

const (
	EventRoomUpdated  EventType = "room-updated"
	EventPlayerJoined EventType = "player-joined"
	EventPlayerLeft   EventType = "player-left"
	EventGameStarted  EventType = "game-started"
	EventPlayerKicked EventType = "player-kicked"
)

// Event is what a subscriber receives. Room is always projected for the
// receiving player.
type Event struct {
	Type             EventType        `json:"type"`
	Room             room.View        `json:"room"`
	Player           *room.PlayerView `json:"player,omitempty"`
	PlayerID         string           `json:"playerId,omitempty"`
	PlayerName       string           `json:"playerName,omitempty"`
	KickedPlayerID   string           `json:"kickedPlayerId,omitempty"`
	KickedPlayerName string           `json:"kickedPlayerName,omitempty"`
}

// Notice is a publication before projection.
type Notice struct {
	Type   EventType
	Room   *room.Room
	Player room.Player
}

func RoomUpdated(r *room.Room) Notice {
	return Notice{Type: EventRoomUpdated, Room: r}
}

func PlayerJoined(r *room.Room, p room.Player) Notice {
	return Notice{Type: EventPlayerJoined, Room: r, Player: p}
}

func PlayerLeft(r *room.Room, p room.Player) Notice {
	return Notice{Type: EventPlayerLeft, Room: r, Player: p}
}

func GameStarted(r *room.Room) Notice {
	return Notice{Type: EventGameStarted, Room: r}
}

func PlayerKicked(r *room.Room, p room.Player) Notice {
	return Notice{Type: EventPlayerKicked, Room: r, Player: p}
}

// For projects n for the subscriber identified by playerID.
func (n Notice) For(playerID string) Event {
	ev := Event{
		Type: n.Type,
		Room: room.Project(n.Room, playerID),
	}

	switch n.Type {
	case EventPlayerJoined:
		pv := room.PublicPlayer(n.Player)
		ev.Player = &pv
	case EventPlayerLeft:
		ev.PlayerID = n.Player.ID
		ev.PlayerName = n.Player.Name
	case EventPlayerKicked:
		ev.KickedPlayerID = n.Player.ID
		ev.KickedPlayerName = n.Player.Name
	}

	return ev
}
