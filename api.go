/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/impostor/realtime"
	"github.com/Seednode/impostor/room"
)

const (
	maxNameLength = 20
	maxBodySize   = 4096
)

// rooms bundles what the room API handlers share.
type rooms struct {
	cfg    *Config
	store  *room.Store
	hub    *realtime.Manager
	policy room.StartPolicy
}

type createRequest struct {
	PlayerName            string `json:"playerName"`
	Language              string `json:"language"`
	DisallowImpostorStart bool   `json:"disallowImpostorStart"`
}

type joinRequest struct {
	PlayerName string `json:"playerName"`
}

type playerRequest struct {
	PlayerID string `json:"playerId"`
	HostID   string `json:"hostId,omitempty"`
}

type joinResponse struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

var success = map[string]bool{"success": true}

func validName(s string) (string, error) {
	name := strings.TrimSpace(s)

	n := utf8.RuneCountInString(name)
	if n == 0 || n > maxNameLength {
		return "", fmt.Errorf("%w: player name must be between 1 and %d characters", room.ErrInvalid, maxNameLength)
	}

	return name, nil
}

func validID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: malformed %s id", room.ErrInvalid, kind)
	}

	return nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body", room.ErrInvalid)
	}

	return nil
}

// roomID returns the validated :roomid route parameter.
func roomID(ps httprouter.Params) (string, error) {
	id := ps.ByName("roomid")

	return id, validID("room", id)
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}

func (rs *rooms) create() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req createRequest
		if err := decode(w, r, &req); err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		name, err := validName(req.PlayerName)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		lang, err := room.ParseLanguage(req.Language)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		created, playerID, err := rs.store.CreateRoom(ctx, name, lang, req.DisallowImpostorStart)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		writeJSON(rs.cfg, w, http.StatusCreated, joinResponse{RoomID: created.ID, PlayerID: playerID})

		logf(rs.cfg, "ROOMS: Created room %s (%s) for %s in %s",
			created.ID,
			lang,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func (rs *rooms) join() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := roomID(ps)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		var req joinRequest
		if err := decode(w, r, &req); err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		name, err := validName(req.PlayerName)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		updated, playerID, err := rs.store.AddPlayer(ctx, id, name)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		if p, ok := updated.Player(playerID); ok {
			rs.hub.Publish(realtime.PlayerJoined(updated, p))
		}

		writeJSON(rs.cfg, w, http.StatusOK, joinResponse{RoomID: id, PlayerID: playerID})

		logf(rs.cfg, "ROOMS: %s joined room %s from %s", playerID, id, realIP(r))
	}
}

// remove serves both explicit leaves and presence disconnects.
func (rs *rooms) remove(verb string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := roomID(ps)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		var req playerRequest
		if err := decode(w, r, &req); err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		if err := validID("player", req.PlayerID); err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		updated, gone, err := rs.store.RemovePlayer(ctx, id, req.PlayerID)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		rs.hub.Publish(realtime.PlayerLeft(updated, gone))

		writeJSON(rs.cfg, w, http.StatusOK, success)

		logf(rs.cfg, "ROOMS: %s %s room %s", req.PlayerID, verb, id)
	}
}

func (rs *rooms) start() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := roomID(ps)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		var req playerRequest
		if err := decode(w, r, &req); err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		if err := validID("player", req.PlayerID); err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		started, err := rs.store.StartGame(ctx, id, req.PlayerID, rs.policy)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		rs.hub.Publish(realtime.GameStarted(started))

		writeJSON(rs.cfg, w, http.StatusOK, success)

		logf(rs.cfg, "ROOMS: Started game %d in room %s", started.GameCount, id)
	}
}

func (rs *rooms) kick() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := roomID(ps)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		var req playerRequest
		if err := decode(w, r, &req); err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		if err := validID("player", req.PlayerID); err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		if err := validID("host", req.HostID); err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		updated, kicked, err := rs.store.KickPlayer(ctx, id, req.PlayerID, req.HostID)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		rs.hub.Publish(realtime.PlayerKicked(updated, kicked))

		writeJSON(rs.cfg, w, http.StatusOK, success)

		logf(rs.cfg, "ROOMS: %s kicked %s from room %s", req.HostID, req.PlayerID, id)
	}
}

// viewer returns the optional playerId query parameter.
func viewer(r *http.Request) (string, error) {
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		return "", nil
	}

	return playerID, validID("player", playerID)
}

func (rs *rooms) get() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := roomID(ps)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		playerID, err := viewer(r)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		current, err := rs.store.GetRoom(ctx, id)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		writeJSON(rs.cfg, w, http.StatusOK, room.Project(current, playerID))
	}
}

func (rs *rooms) channel() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := roomID(ps)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		playerID, err := viewer(r)
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		ctx, cancel := requestContext(r)
		_, err = rs.store.GetRoom(ctx, id)
		cancel()
		if err != nil {
			writeError(rs.cfg, w, err)

			return
		}

		if err := rs.hub.Serve(w, r, id, playerID); err != nil {
			logf(rs.cfg, "SERVE: Websocket upgrade for %s failed: %v", realIP(r), err)
		}
	}
}

// absent removes a player whose connections stayed closed past the
// presence grace period.
func (rs *rooms) absent(roomID, playerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	updated, gone, err := rs.store.RemovePlayer(ctx, roomID, playerID)
	if err != nil {
		if !room.Rejected(err) {
			logf(rs.cfg, "ROOMS: Removing absent player %s from %s failed: %v", playerID, roomID, err)
		}

		return
	}

	rs.hub.Publish(realtime.PlayerLeft(updated, gone))

	logf(rs.cfg, "ROOMS: Removed absent player %s from room %s", playerID, roomID)
}

func registerRooms(rs *rooms, limits *limiters, mux *httprouter.Router) {
	base := rs.cfg.prefix + "/api/rooms"

	mux.POST(base, limits.wrap(rs.cfg, rs.create()))
	mux.GET(base+"/:roomid", rs.get())
	mux.POST(base+"/:roomid/join", limits.wrap(rs.cfg, rs.join()))
	mux.POST(base+"/:roomid/leave", rs.remove("left"))
	mux.POST(base+"/:roomid/disconnect", rs.remove("disconnected from"))
	mux.POST(base+"/:roomid/start", rs.start())
	mux.POST(base+"/:roomid/kick", rs.kick())
	mux.GET(base+"/:roomid/ws", rs.channel())
	mux.GET(base+"/:roomid/qr", serveQR(rs.cfg))
}
