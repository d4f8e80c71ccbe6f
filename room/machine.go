/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"math/rand/v2"
)

// Chooser returns a uniformly random index in [0, n). n is always > 0.
type Chooser func(n int) int

// RandomChooser draws from math/rand/v2's global source.
func RandomChooser(n int) int {
	return rand.IntN(n)
}

// StartPolicy carries the caller's rules for starting a round. The zero
// value enforces no minimum.
type StartPolicy struct {
	MinPlayers int
}

// AddPlayer appends a new member. The player is not dealt a role, even if a
// round is in progress, so the word is never visible before the next start.
func (r *Room) AddPlayer(playerID, name string) error {
	if r.Status == StatusFinished {
		return ErrRoomFinished
	}

	r.Players = append(r.Players, Player{
		ID:     playerID,
		Name:   name,
		IsHost: len(r.Players) == 0,
	})

	return nil
}

// RemovePlayer drops a member and hands the host role to the first
// remaining player if needed. An emptied room is kept as is.
func (r *Room) RemovePlayer(playerID string) (Player, error) {
	i := r.indexOf(playerID)
	if i < 0 {
		return Player{}, ErrPlayerNotFound
	}

	removed := r.Players[i]
	r.Players = append(r.Players[:i:i], r.Players[i+1:]...)

	if len(r.Players) == 0 {
		return removed, nil
	}

	if _, ok := r.Host(); !ok {
		r.Players[0].IsHost = true
	}

	return removed, nil
}

func (r *Room) requireHost(hostID string) error {
	p, ok := r.Player(hostID)
	if !ok || !p.IsHost {
		return ErrNotHost
	}

	return nil
}

// Kick removes targetID on behalf of hostID.
func (r *Room) Kick(targetID, hostID string) (Player, error) {
	if err := r.requireHost(hostID); err != nil {
		return Player{}, err
	}

	if r.indexOf(targetID) < 0 {
		return Player{}, ErrPlayerNotFound
	}

	if targetID == hostID {
		return Player{}, ErrKickSelf
	}

	return r.RemovePlayer(targetID)
}

// Start deals a new round to every current member: one impostor, a secret
// word from words, and a starting player. Starting an already playing room
// is a restart and bumps GameCount.
func (r *Room) Start(hostID string, words []string, pick Chooser, policy StartPolicy) error {
	if r.Status != StatusWaiting && r.Status != StatusPlaying {
		return ErrRoomFinished
	}

	if err := r.requireHost(hostID); err != nil {
		return err
	}

	if len(r.Players) < policy.MinPlayers {
		return ErrNotEnoughPlayers
	}

	if len(words) == 0 {
		return ErrNoWords
	}

	impostor := pick(len(r.Players))
	for i := range r.Players {
		isImpostor := i == impostor
		r.Players[i].IsImpostor = &isImpostor
		r.Players[i].IsPlaying = true
	}

	r.Word = words[pick(len(words))]
	r.StartingPlayerID = r.Players[startingIndex(r.Players, r.DisallowImpostorStart, pick)].ID

	if r.Status == StatusPlaying {
		r.GameCount++
	}
	r.Status = StatusPlaying

	return nil
}

func startingIndex(players []Player, excludeImpostor bool, pick Chooser) int {
	if !excludeImpostor {
		return pick(len(players))
	}

	candidates := make([]int, 0, len(players))
	for i, p := range players {
		if !p.Impostor() {
			candidates = append(candidates, i)
		}
	}

	// a lone impostor still has to start
	if len(candidates) == 0 {
		return pick(len(players))
	}

	return candidates[pick(len(candidates))]
}
