/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

// PlayerView is a member as another client is allowed to see it.
type PlayerView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsHost     bool   `json:"isHost"`
	IsPlaying  bool   `json:"isPlaying"`
	IsImpostor *bool  `json:"isImpostor,omitempty"`
}

// View is the sanitized room sent to clients.
type View struct {
	ID                    string       `json:"id"`
	Status                Status       `json:"status"`
	GameCount             int          `json:"gameCount"`
	Language              Language     `json:"language"`
	DisallowImpostorStart bool         `json:"disallowImpostorStart"`
	StartingPlayerID      string       `json:"startingPlayerId,omitempty"`
	Word                  string       `json:"word,omitempty"`
	Players               []PlayerView `json:"players"`
}

// Project renders r for viewerID, which may be empty for an observer.
// Only the viewer's own role is included, and the word only reaches
// a viewer dealt into the current round as a non-impostor.
func Project(r *Room, viewerID string) View {
	v := View{
		ID:                    r.ID,
		Status:                r.Status,
		GameCount:             r.GameCount,
		Language:              r.Language,
		DisallowImpostorStart: r.DisallowImpostorStart,
		StartingPlayerID:      r.StartingPlayerID,
		Players:               make([]PlayerView, 0, len(r.Players)),
	}

	for _, p := range r.Players {
		pv := PublicPlayer(p)

		if viewerID != "" && p.ID == viewerID {
			if p.IsImpostor != nil {
				isImpostor := *p.IsImpostor
				pv.IsImpostor = &isImpostor
			}

			if r.Status == StatusPlaying && p.IsPlaying && p.IsImpostor != nil && !*p.IsImpostor {
				v.Word = r.Word
			}
		}

		v.Players = append(v.Players, pv)
	}

	return v
}

// PublicPlayer strips the role from p.
func PublicPlayer(p Player) PlayerView {
	return PlayerView{
		ID:        p.ID,
		Name:      p.Name,
		IsHost:    p.IsHost,
		IsPlaying: p.IsPlaying,
	}
}

// Player looks up a member of the view by id.
func (v *View) Player(playerID string) (PlayerView, bool) {
	for _, p := range v.Players {
		if p.ID == playerID {
			return p, true
		}
	}

	return PlayerView{}, false
}

// HasPlayer reports whether playerID is still a member.
func (v *View) HasPlayer(playerID string) bool {
	_, ok := v.Player(playerID)

	return ok
}
