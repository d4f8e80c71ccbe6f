/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"errors"
	"fmt"
)

// ErrRejected is wrapped by every precondition failure. A rejected call
// never changes the room.
var ErrRejected = errors.New("operation rejected")

var (
	ErrRoomNotFound     = rejected("room not found")
	ErrPlayerNotFound   = rejected("player not found in room")
	ErrRoomFinished     = rejected("game already finished")
	ErrNotHost          = rejected("only the host can do that")
	ErrKickSelf         = rejected("the host cannot kick themselves")
	ErrNotEnoughPlayers = rejected("not enough players to start")
)

var (
	// ErrInvalid marks malformed input (bad id, name or language).
	ErrInvalid = errors.New("invalid request")

	// ErrStorage wraps faults of the underlying backend.
	ErrStorage = errors.New("storage unavailable")

	ErrNoWords = errors.New("no words available for this language")
)

func rejected(msg string) error {
	return fmt.Errorf("%w: %s", ErrRejected, msg)
}

// Rejected reports whether err is a precondition failure rather than a
// storage or transport fault.
func Rejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

var codes = []struct {
	err  error
	code string
}{
	{ErrRoomNotFound, "not_found"},
	{ErrPlayerNotFound, "player_not_found"},
	{ErrRoomFinished, "finished"},
	{ErrNotHost, "not_host"},
	{ErrKickSelf, "kick_self"},
	{ErrNotEnoughPlayers, "not_enough_players"},
	{ErrInvalid, "invalid"},
	{ErrStorage, "storage"},
}

// Code returns the stable wire code for err, or "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return "internal"
}

// FromCode is the inverse of Code. Unknown codes yield nil.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}

	return nil
}
