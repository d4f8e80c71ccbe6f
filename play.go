/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Seednode/impostor/client"
	"github.com/Seednode/impostor/room"
	"github.com/Seednode/impostor/session"
)

type playConfig struct {
	disallowImpostorStart bool
	language              string
	name                  string
	room                  string
	server                string
	sessionFile           string
	verbose               bool
}

func newPlayCmd() *cobra.Command {
	pc := &playConfig{}

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join or host a room from the terminal.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return play(cmd.Context(), pc, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()

	fs.BoolVar(&pc.disallowImpostorStart, "disallow-impostor-start", false, "never let the impostor speak first in a new room (env: IMPOSTOR_DISALLOW_IMPOSTOR_START)")
	fs.StringVar(&pc.language, "language", "en", "word language for a new room, en or fr (env: IMPOSTOR_LANGUAGE)")
	fs.StringVar(&pc.name, "name", "", "player name (env: IMPOSTOR_NAME)")
	fs.StringVar(&pc.room, "room", "", "room to join instead of creating one (env: IMPOSTOR_ROOM)")
	fs.StringVar(&pc.server, "server", "http://localhost:8080", "server address, including any prefix (env: IMPOSTOR_SERVER)")
	fs.StringVar(&pc.sessionFile, "session-file", "", "where to remember the current room (env: IMPOSTOR_SESSION_FILE)")
	fs.BoolVarP(&pc.verbose, "verbose", "v", false, "display additional output (env: IMPOSTOR_VERBOSE)")

	bindEnv(fs)

	return cmd
}

// screen prints session state as it changes.
type screen struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func (s *screen) render(st session.State) {
	var b strings.Builder

	if st.Notice != "" {
		fmt.Fprintf(&b, "* %s\n", st.Notice)
	}

	if st.Connecting {
		b.WriteString("* Reconnecting...\n")
	}

	if v := st.Room; v != nil {
		fmt.Fprintf(&b, "Room %s | %s | game %d | %s\n", v.ID, v.Status, v.GameCount, v.Language)

		for _, p := range v.Players {
			var tags []string
			if p.IsHost {
				tags = append(tags, "host")
			}
			if p.ID == st.PlayerID {
				tags = append(tags, "you")
			}
			if v.Status == room.StatusPlaying && !p.IsPlaying {
				tags = append(tags, "waiting")
			}
			if p.ID == v.StartingPlayerID {
				tags = append(tags, "starts")
			}

			fmt.Fprintf(&b, "  - %s", p.Name)
			if len(tags) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(tags, ", "))
			}
			b.WriteString("\n")
		}

		if me, ok := v.Player(st.PlayerID); ok && v.Status == room.StatusPlaying {
			switch {
			case !me.IsPlaying:
				b.WriteString("You will be dealt in next round.\n")
			case me.IsImpostor != nil && *me.IsImpostor:
				b.WriteString("You are the impostor.\n")
			default:
				fmt.Fprintf(&b, "Your word: %s\n", v.Word)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b.String() == s.last {
		return
	}
	s.last = b.String()

	fmt.Fprint(s.out, s.last)
}

func (s *screen) println(args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintln(s.out, args...)
}

func playerByName(v *room.View, name string) (room.PlayerView, bool) {
	for _, p := range v.Players {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}

	return room.PlayerView{}, false
}

// command runs one line of input and reports whether to stop.
func command(ctx context.Context, ctl *session.Controller, line string) (bool, error) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(verb) {
	case "":
		return false, nil
	case "start":
		return false, ctl.StartGame(ctx)
	case "kick":
		st := ctl.State()
		if st.Room == nil {
			return false, session.ErrNoSession
		}

		p, ok := playerByName(st.Room, arg)
		if !ok {
			return false, fmt.Errorf("no player named %q", arg)
		}

		return false, ctl.KickPlayer(ctx, p.ID)
	case "sync":
		st := ctl.State()
		if st.Room == nil {
			return false, session.ErrNoSession
		}

		_, err := ctl.AttemptReconnection(ctx, st.Room.ID, st.PlayerID, st.PlayerName)

		return false, err
	case "leave":
		return true, ctl.LeaveRoom(ctx)
	case "quit", "exit":
		return true, nil
	default:
		return false, errors.New("commands: start, kick <name>, sync, leave, quit")
	}
}

func play(ctx context.Context, pc *playConfig, in io.Reader, out io.Writer) error {
	path := pc.sessionFile
	if path == "" {
		var err error

		path, err = session.DefaultPath()
		if err != nil {
			return err
		}
	}

	lang, err := room.ParseLanguage(pc.language)
	if err != nil {
		return err
	}

	level := zerolog.WarnLevel
	if pc.verbose {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	api := client.New(pc.server, nil)
	scr := &screen{out: out}

	ctl := session.New(api, session.NewFileStorage(path), api.Subscriber,
		session.WithLogger(logger),
		session.WithOnChange(scr.render),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer ctl.Close()

	restored, err := ctl.Restore(ctx)
	if err != nil {
		return err
	}

	if !restored {
		if strings.TrimSpace(pc.name) == "" {
			return errors.New("--name is required to create or join a room")
		}

		if pc.room != "" {
			err = ctl.JoinRoom(ctx, pc.room, pc.name)
		} else {
			err = ctl.CreateRoom(ctx, pc.name, lang, pc.disallowImpostorStart)
		}
		if err != nil {
			return err
		}
	}

	visibility := make(chan session.Visibility, 1)
	stop := notifyVisible(ctx, visibility)
	defer stop()

	go ctl.Monitor(ctx, visibility)

	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			done, err := command(ctx, ctl, line)
			if err != nil {
				scr.println("error:", err)
			}
			if done {
				return nil
			}
		}
	}
}
