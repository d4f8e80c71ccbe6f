/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package client talks to an impostor server over its JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Seednode/impostor/realtime"
	"github.com/Seednode/impostor/room"
	"github.com/Seednode/impostor/session"
)

type Client struct {
	base string
	http *http.Client
}

// New returns a client for the server at base, including any path prefix.
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		base: strings.TrimSuffix(base, "/"),
		http: hc,
	}
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type joined struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

func (c *Client) roomPath(roomID string, elem ...string) string {
	return c.base + "/api/rooms/" + strings.Join(append([]string{url.PathEscape(roomID)}, elem...), "/")
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e apiError
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Code == "" {
			return fmt.Errorf("%s %s: %s", method, target, resp.Status)
		}

		sentinel := room.FromCode(e.Code)
		if sentinel == nil {
			return fmt.Errorf("%s %s: %s", method, target, e.Error)
		}

		return fmt.Errorf("%w: %s", sentinel, e.Error)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) CreateRoom(ctx context.Context, playerName string, language room.Language, disallowImpostorStart bool) (string, string, error) {
	var out joined

	err := c.do(ctx, http.MethodPost, c.base+"/api/rooms", map[string]any{
		"playerName":            playerName,
		"language":              language,
		"disallowImpostorStart": disallowImpostorStart,
	}, &out)
	if err != nil {
		return "", "", err
	}

	return out.RoomID, out.PlayerID, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID, playerName string) (string, error) {
	var out joined

	err := c.do(ctx, http.MethodPost, c.roomPath(roomID, "join"), map[string]string{
		"playerName": playerName,
	}, &out)
	if err != nil {
		return "", err
	}

	return out.PlayerID, nil
}

func (c *Client) LeaveRoom(ctx context.Context, roomID, playerID string) error {
	return c.do(ctx, http.MethodPost, c.roomPath(roomID, "leave"), map[string]string{
		"playerId": playerID,
	}, nil)
}

// Disconnect reports the player as gone, as a presence service would.
func (c *Client) Disconnect(ctx context.Context, roomID, playerID string) error {
	return c.do(ctx, http.MethodPost, c.roomPath(roomID, "disconnect"), map[string]string{
		"playerId": playerID,
	}, nil)
}

func (c *Client) StartGame(ctx context.Context, roomID, playerID string) error {
	return c.do(ctx, http.MethodPost, c.roomPath(roomID, "start"), map[string]string{
		"playerId": playerID,
	}, nil)
}

func (c *Client) KickPlayer(ctx context.Context, roomID, targetID, hostID string) error {
	return c.do(ctx, http.MethodPost, c.roomPath(roomID, "kick"), map[string]string{
		"playerId": targetID,
		"hostId":   hostID,
	}, nil)
}

func (c *Client) GetRoom(ctx context.Context, roomID, playerID string) (*room.View, error) {
	target := c.roomPath(roomID)
	if playerID != "" {
		target += "?playerId=" + url.QueryEscape(playerID)
	}

	var v room.View
	if err := c.do(ctx, http.MethodGet, target, nil, &v); err != nil {
		return nil, err
	}

	return &v, nil
}

// ChannelURL is the websocket address of a room's channel.
func (c *Client) ChannelURL(roomID, playerID string) (string, error) {
	u, err := url.Parse(c.roomPath(roomID, "ws"))
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.New("unsupported scheme " + u.Scheme)
	}

	if playerID != "" {
		u.RawQuery = url.Values{"playerId": {playerID}}.Encode()
	}

	return u.String(), nil
}

// Subscriber builds room channel subscriptions for a session controller.
func (c *Client) Subscriber(roomID, playerID string, h realtime.Handlers) session.Subscriber {
	target, err := c.ChannelURL(roomID, playerID)
	if err != nil {
		return failed{err}
	}

	return realtime.NewSubscription(target, h)
}

type failed struct {
	err error
}

func (f failed) Subscribe(context.Context) error { return f.err }

func (failed) Unsubscribe() {}
