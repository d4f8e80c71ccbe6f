/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package room holds the impostor game's room model, the transitions that
// mutate it, and the Store that persists it.
package room

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Language selects the secret word list of a room.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageFrench  Language = "fr"
)

// ParseLanguage accepts "en" or "fr"; the empty string means English.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case "", LanguageEnglish:
		return LanguageEnglish, nil
	case LanguageFrench:
		return LanguageFrench, nil
	default:
		return "", fmt.Errorf("%w: unsupported language %q", ErrInvalid, s)
	}
}

type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsHost    bool   `json:"isHost"`
	IsPlaying bool   `json:"isPlaying"`

	// nil until the player has been dealt into a round
	IsImpostor *bool `json:"isImpostor,omitempty"`
}

// Impostor reports whether the player was dealt the impostor role.
func (p Player) Impostor() bool {
	return p.IsImpostor != nil && *p.IsImpostor
}

type Room struct {
	ID                    string    `json:"id"`
	Players               []Player  `json:"players"`
	Status                Status    `json:"status"`
	GameCount             int       `json:"gameCount"`
	Language              Language  `json:"language"`
	DisallowImpostorStart bool      `json:"disallowImpostorStart"`
	Word                  string    `json:"word,omitempty"`
	StartingPlayerID      string    `json:"startingPlayerId,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// New builds a waiting room whose only member is its host.
func New(id, hostID, hostName string, language Language, disallowImpostorStart bool, now time.Time) *Room {
	return &Room{
		ID: id,
		Players: []Player{{
			ID:     hostID,
			Name:   hostName,
			IsHost: true,
		}},
		Status:                StatusWaiting,
		GameCount:             1,
		Language:              language,
		DisallowImpostorStart: disallowImpostorStart,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func (r *Room) indexOf(playerID string) int {
	for i := range r.Players {
		if r.Players[i].ID == playerID {
			return i
		}
	}

	return -1
}

// Player looks up a member by id.
func (r *Room) Player(playerID string) (Player, bool) {
	i := r.indexOf(playerID)
	if i < 0 {
		return Player{}, false
	}

	return r.Players[i], true
}

func (r *Room) Host() (Player, bool) {
	for _, p := range r.Players {
		if p.IsHost {
			return p, true
		}
	}

	return Player{}, false
}

// Clone returns a deep copy, so a backend can hand out rooms without
// sharing player slices or role pointers.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}

	c := *r
	c.Players = make([]Player, len(r.Players))
	for i, p := range r.Players {
		if p.IsImpostor != nil {
			v := *p.IsImpostor
			p.IsImpostor = &v
		}
		c.Players[i] = p
	}

	return &c
}
